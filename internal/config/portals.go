package config

import "time"

// PortalsConfig holds the page maps used to scrape and publish listings.
// Selectors are data; the code never hardcodes a site's DOM.
type PortalsConfig struct {
	Source SourcePortalConfig `mapstructure:"source"`
	Target TargetPortalConfig `mapstructure:"target"`
}

// SourcePortalConfig maps listing attributes to elements of the source
// system's listing page.
type SourcePortalConfig struct {
	// ListingURLTemplate is formatted with the listing's source code (%s).
	ListingURLTemplate string            `mapstructure:"listing_url_template"`
	Fields             map[string]string `mapstructure:"fields"`
	PhotoSelector      string            `mapstructure:"photo_selector"`
	PhotoAttr          string            `mapstructure:"photo_attr"`
	ReadySelector      string            `mapstructure:"ready_selector"`
}

// TargetPortalConfig maps listing attributes to inputs of the target
// system's listing form.
type TargetPortalConfig struct {
	NewListingURL      string            `mapstructure:"new_listing_url"`
	Fields             map[string]string `mapstructure:"fields"`
	CodeFieldSelector  string            `mapstructure:"code_field_selector"`
	PhotoInputSelector string            `mapstructure:"photo_input_selector"`
	SubmitSelectors    []SelectorConfig  `mapstructure:"submit_selectors"`
	SuccessIndicators  IndicatorConfig   `mapstructure:"success_indicators"`
	FailureIndicators  IndicatorConfig   `mapstructure:"failure_indicators"`
	SettleDelay        time.Duration     `mapstructure:"settle_delay"`
}

func (c SourcePortalConfig) withDefaults(def SourcePortalConfig) SourcePortalConfig {
	if c.ListingURLTemplate == "" {
		c.ListingURLTemplate = def.ListingURLTemplate
	}
	if len(c.Fields) == 0 {
		c.Fields = def.Fields
	}
	if c.PhotoSelector == "" {
		c.PhotoSelector = def.PhotoSelector
	}
	if c.PhotoAttr == "" {
		c.PhotoAttr = def.PhotoAttr
	}
	if c.ReadySelector == "" {
		c.ReadySelector = def.ReadySelector
	}
	return c
}

func (c TargetPortalConfig) withDefaults(def TargetPortalConfig) TargetPortalConfig {
	if c.NewListingURL == "" {
		c.NewListingURL = def.NewListingURL
	}
	if len(c.Fields) == 0 {
		c.Fields = def.Fields
	}
	if c.CodeFieldSelector == "" {
		c.CodeFieldSelector = def.CodeFieldSelector
	}
	if c.PhotoInputSelector == "" {
		c.PhotoInputSelector = def.PhotoInputSelector
	}
	if len(c.SubmitSelectors) == 0 {
		c.SubmitSelectors = def.SubmitSelectors
	}
	if len(c.SuccessIndicators.URLPatterns) == 0 && len(c.SuccessIndicators.TextPhrases) == 0 {
		c.SuccessIndicators = def.SuccessIndicators
	}
	if len(c.FailureIndicators.URLPatterns) == 0 && len(c.FailureIndicators.TextPhrases) == 0 {
		c.FailureIndicators = def.FailureIndicators
	}
	if c.SettleDelay == 0 {
		c.SettleDelay = def.SettleDelay
	}
	return c
}

// DefaultSourcePortal returns generic selectors for a listing detail page.
func DefaultSourcePortal() SourcePortalConfig {
	return SourcePortalConfig{
		ListingURLTemplate: "https://app.source.example.com/imoveis/%s",
		Fields: map[string]string{
			"title":         `[data-field="title"]`,
			"description":   `[data-field="description"]`,
			"price":         `[data-field="price"]`,
			"property_type": `[data-field="property_type"]`,
			"bedrooms":      `[data-field="bedrooms"]`,
			"bathrooms":     `[data-field="bathrooms"]`,
			"parking_spots": `[data-field="parking_spots"]`,
			"area":          `[data-field="area"]`,
			"address":       `[data-field="address"]`,
			"neighborhood":  `[data-field="neighborhood"]`,
			"city":          `[data-field="city"]`,
			"state":         `[data-field="state"]`,
			"zip_code":      `[data-field="zip_code"]`,
		},
		PhotoSelector: `[data-field="photos"] img`,
		PhotoAttr:     "src",
		ReadySelector: "body",
	}
}

// DefaultTargetPortal returns generic selectors for a new-listing form.
func DefaultTargetPortal() TargetPortalConfig {
	return TargetPortalConfig{
		NewListingURL: "https://www.target.example.com/anuncios/novo",
		Fields: map[string]string{
			"title":         `[name="title"]`,
			"description":   `[name="description"]`,
			"price":         `[name="price"]`,
			"property_type": `[name="property_type"]`,
			"bedrooms":      `[name="bedrooms"]`,
			"bathrooms":     `[name="bathrooms"]`,
			"parking_spots": `[name="parking_spots"]`,
			"area":          `[name="area"]`,
			"address":       `[name="address"]`,
			"neighborhood":  `[name="neighborhood"]`,
			"city":          `[name="city"]`,
			"state":         `[name="state"]`,
			"zip_code":      `[name="zip_code"]`,
		},
		CodeFieldSelector:  `[name="listing_code"]`,
		PhotoInputSelector: `input[type="file"]`,
		SubmitSelectors:    defaultSubmitSelectors,
		SuccessIndicators: IndicatorConfig{
			URLPatterns: []string{"/anuncios/", "/sucesso"},
			TextPhrases: []string{"anúncio publicado", "listing published", "publicado com sucesso"},
		},
		FailureIndicators: IndicatorConfig{
			TextPhrases: []string{"campo obrigatório", "required field", "erro ao publicar", "código já utilizado"},
		},
		SettleDelay: 5 * time.Second,
	}
}
