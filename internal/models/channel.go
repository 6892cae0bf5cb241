package models

// Channel is a spectral/detection band of an instrument.
type Channel struct {
	// Name is used in dataset names and output paths
	Name string `yaml:"name"`

	// Wavelength is the nominal band wavelength; zero means not applicable
	Wavelength float64 `yaml:"wavelength,omitempty"`

	// WavelengthUnit is the unit of Wavelength and WavelengthRange
	WavelengthUnit string `yaml:"wavelengthUnit,omitempty"`

	// WavelengthRange is the optional [min, max] band pass
	WavelengthRange []float64 `yaml:"wavelengthRange,omitempty"`

	// InstrumentLabel overrides the INSTRUME header card
	InstrumentLabel string `yaml:"instrumentLabel,omitempty"`
}

// CountsDataset returns the store dataset that holds this channel's counts.
func (c Channel) CountsDataset() string {
	return "counts_" + c.Name
}

// HasWavelength reports whether a WAVELNTH card applies.
func (c Channel) HasWavelength() bool {
	return c.Wavelength != 0
}

// InRange reports whether a wavelength falls inside the channel band pass.
// Channels without a band pass contain nothing.
func (c Channel) InRange(wavelength float64) bool {
	if len(c.WavelengthRange) < 2 {
		return false
	}
	return c.WavelengthRange[0] <= wavelength && wavelength <= c.WavelengthRange[len(c.WavelengthRange)-1]
}
