package federation

// Service is a registry of configured identity providers.
type Service struct {
	providers map[string]Provider
}

// NewService creates an empty provider registry.
func NewService() *Service {
	return &Service{providers: make(map[string]Provider)}
}

// Register adds a provider to the registry, replacing any provider with
// the same name.
func (s *Service) Register(provider Provider) {
	s.providers[provider.Name()] = provider
}

// Get returns the named provider, or ErrProviderNotFound.
func (s *Service) Get(name string) (Provider, error) {
	provider, ok := s.providers[name]
	if !ok {
		return nil, ErrProviderNotFound
	}
	return provider, nil
}

// Names lists the registered provider names.
func (s *Service) Names() []string {
	names := make([]string, 0, len(s.providers))
	for name := range s.providers {
		names = append(names, name)
	}
	return names
}
