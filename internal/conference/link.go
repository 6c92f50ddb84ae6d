package conference

import (
	"errors"
	"fmt"
	"net/url"

	"github.com/google/uuid"
)

// LinkGenerator builds one meeting room URL per appointment under a
// base URL, e.g. https://meet.example.org/clinic-<appointment id>.
type LinkGenerator struct {
	base *url.URL
}

func NewLinkGenerator(baseURL string) (*LinkGenerator, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse conference base url: %w", err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return nil, errors.New("conference base url must be http or https")
	}
	if u.Host == "" {
		return nil, errors.New("conference base url has no host")
	}
	return &LinkGenerator{base: u}, nil
}

func (g *LinkGenerator) Generate(appointmentID uuid.UUID) (string, error) {
	if appointmentID == uuid.Nil {
		return "", errors.New("appointment id is required")
	}
	return g.base.JoinPath("clinic-" + appointmentID.String()).String(), nil
}
