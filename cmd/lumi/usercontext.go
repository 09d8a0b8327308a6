package main

import (
	"fmt"
	"os"

	"github.com/ashureev/lumi/internal/domain"
	"gopkg.in/yaml.v3"
)

// loadUserContext reads an author description such as:
//
//	user_name: Dana
//	user_description: a retired lighthouse keeper
//	user_themes: growing up on the coast
//	mentioned_names: [Sam, Aunt Rose]
func loadUserContext(path string) (domain.UserContext, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.UserContext{}, fmt.Errorf("read user context: %w", err)
	}
	var uc domain.UserContext
	if err := yaml.Unmarshal(data, &uc); err != nil {
		return domain.UserContext{}, fmt.Errorf("parse user context %s: %w", path, err)
	}
	return uc.WithDefaults(), nil
}
