package adapters

// Registry is a lookup table from adapterKind (as named in the provider
// registry's metadata, internal/registry) to the Adapter instance that
// serves it. Adapters are stateless beyond their own HTTP client, so one
// instance per kind is shared across every provider alias and request.
type Registry struct {
	byKind map[string]Adapter
}

// Default builds the Registry wiring every adapter kind the provider roster
// names (SPEC_FULL.md §5): ollama, huggingface, gemini (shared by vertexai),
// openai, anthropic, mistral.
func Default() *Registry {
	r := &Registry{byKind: make(map[string]Adapter)}
	for _, a := range []Adapter{
		NewOllama(),
		NewHuggingFace(),
		NewGemini(),
		NewOpenAI(),
		NewAnthropic(),
		NewMistral(),
	} {
		r.byKind[a.Kind()] = a
	}
	return r
}

// Get returns the adapter registered for kind, or false if none is wired.
func (r *Registry) Get(kind string) (Adapter, bool) {
	a, ok := r.byKind[kind]
	return a, ok
}

// Register installs or overrides the adapter for kind — used by tests to
// install fakes (see mock/adapters).
func (r *Registry) Register(kind string, a Adapter) {
	r.byKind[kind] = a
}
