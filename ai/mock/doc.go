// Package mock provides test double implementations of the ai interfaces.
//
// # Usage in Tests
//
//	embedder := mock.NewMockEmbedder().WithDimension(8)
//	vec, err := embedder.EmbedText(ctx, "test")
//
//	// Inject failures
//	embedder.WithEmbedTextFunc(func(ctx context.Context, text string) ([]float32, error) {
//	    return nil, errors.New("service down")
//	})
//
//	// Assert on traffic
//	embedder.CallCount()
//	embedder.CallsFor("test")
//
// # Default Behavior
//
// MockEmbedder returns deterministic unit vectors derived from a hash of the
// text, so identical text always yields identical vectors.
package mock
