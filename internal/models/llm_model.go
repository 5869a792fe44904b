package models

// LLMModel represents a single language model option from the embedded catalog.
type LLMModel struct {
	Key          string `json:"key"`
	DisplayName  string `json:"displayName"`
	APIName      string `json:"apiName"`
	ProviderID   string `json:"providerId"`
	ProviderName string `json:"providerName"`
	Thinking     *bool  `json:"thinking,omitempty"`
	Enabled      bool   `json:"enabled"`
}

// LLMModelGroup groups models by their provider for presentation.
type LLMModelGroup struct {
	ProviderID   string     `json:"providerId"`
	ProviderName string     `json:"providerName"`
	Models       []LLMModel `json:"models"`
}
