package domain

// Listing is the property payload scraped from the source system.
type Listing struct {
	SourceCode   string            `json:"source_code"`
	Title        string            `json:"title"`
	Description  string            `json:"description"`
	Price        string            `json:"price"`
	PropertyType string            `json:"property_type,omitempty"`
	Bedrooms     string            `json:"bedrooms,omitempty"`
	Bathrooms    string            `json:"bathrooms,omitempty"`
	ParkingSpots string            `json:"parking_spots,omitempty"`
	Area         string            `json:"area,omitempty"`
	Address      string            `json:"address,omitempty"`
	Neighborhood string            `json:"neighborhood,omitempty"`
	City         string            `json:"city,omitempty"`
	State        string            `json:"state,omitempty"`
	ZipCode      string            `json:"zip_code,omitempty"`
	PhotoURLs    []string          `json:"photo_urls"`
	Extra        map[string]string `json:"extra,omitempty"`
}

// Field returns a listing attribute by its configuration name.
func (l *Listing) Field(name string) string {
	switch name {
	case "title":
		return l.Title
	case "description":
		return l.Description
	case "price":
		return l.Price
	case "property_type":
		return l.PropertyType
	case "bedrooms":
		return l.Bedrooms
	case "bathrooms":
		return l.Bathrooms
	case "parking_spots":
		return l.ParkingSpots
	case "area":
		return l.Area
	case "address":
		return l.Address
	case "neighborhood":
		return l.Neighborhood
	case "city":
		return l.City
	case "state":
		return l.State
	case "zip_code":
		return l.ZipCode
	}
	return l.Extra[name]
}

// SetField assigns a listing attribute by its configuration name.
func (l *Listing) SetField(name, value string) {
	switch name {
	case "title":
		l.Title = value
	case "description":
		l.Description = value
	case "price":
		l.Price = value
	case "property_type":
		l.PropertyType = value
	case "bedrooms":
		l.Bedrooms = value
	case "bathrooms":
		l.Bathrooms = value
	case "parking_spots":
		l.ParkingSpots = value
	case "area":
		l.Area = value
	case "address":
		l.Address = value
	case "neighborhood":
		l.Neighborhood = value
	case "city":
		l.City = value
	case "state":
		l.State = value
	case "zip_code":
		l.ZipCode = value
	default:
		if l.Extra == nil {
			l.Extra = make(map[string]string)
		}
		l.Extra[name] = value
	}
}

// MediaRef is the stored location of one listing photo. When a download
// fails LocalPath is empty and Location falls back to the original URL.
type MediaRef struct {
	SourceURL string `json:"source_url"`
	Location  string `json:"location"`
	LocalPath string `json:"local_path,omitempty"`
	Width     int    `json:"width,omitempty"`
	Height    int    `json:"height,omitempty"`
}

// PublishResult describes the listing created on the target system.
type PublishResult struct {
	Code       string `json:"code"`
	ListingURL string `json:"listing_url,omitempty"`
	Message    string `json:"message,omitempty"`
}
