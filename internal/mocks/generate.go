// Package mocks provides gomock implementations of the provider and storage
// interfaces for tests.
//
// To regenerate mocks after interface changes, run:
//
//	go generate ./internal/mocks
package mocks

//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=image_backend_mock.go -mock_names=Backend=MockImageBackend github.com/bobarin/storyreel/internal/imagegen Backend

//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=object_store_mock.go github.com/bobarin/storyreel/internal/storage ObjectStore

//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=synthesizer_mock.go github.com/bobarin/storyreel/internal/speech Synthesizer
