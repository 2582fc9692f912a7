package interaction

import "fmt"

// Device describes one emulated viewport. It is created when the host
// provisions a surface and stays immutable until the surface is closed.
type Device struct {
	ID          string  `yaml:"id" json:"id"`
	Name        string  `yaml:"name" json:"name"`
	Width       int     `yaml:"width" json:"width"`
	Height      int     `yaml:"height" json:"height"`
	UserAgent   string  `yaml:"useragent" json:"useragent,omitempty"`
	Mobile      bool    `yaml:"mobile" json:"mobile,omitempty"`
	ScaleFactor float64 `yaml:"scale_factor" json:"scale_factor,omitempty"`
	Zoom        float64 `yaml:"zoom" json:"zoom,omitempty"`
}

// Validate checks the fields a surface needs.
func (d Device) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("interaction: device %q has no id", d.Name)
	}
	if d.Width <= 0 || d.Height <= 0 {
		return fmt.Errorf("interaction: device %s: invalid size %dx%d", d.ID, d.Width, d.Height)
	}
	return nil
}
