/*
Copyright © 2025 Valentyn Solomko <valentyn.solomko@gmail.com>

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/viper"

	"github.com/valpere/perekladoc/internal/translator"
)

// buildService constructs the named translation service. Credentials fall
// back to viper, so they can come from flags, PEREKLADOC_* environment
// variables or the config file. The returned cleanup func is never nil.
func buildService(ctx context.Context, name string) (translator.Service, translator.ServiceConfig, func(), error) {
	noop := func() {}

	switch name {
	case "google":
		cfg := translator.ServiceConfig{
			Credentials: stringSetting(credentials, "google.credentials"),
			APIKey:      stringSetting("", "google.api_key"),
			ProjectID:   stringSetting(projectID, "google.project"),
		}
		svc, err := translator.NewGoogleService(ctx, cfg)
		if err != nil {
			return nil, translator.ServiceConfig{}, noop, fmt.Errorf("failed to init Google Translate: %w", err)
		}
		return svc, cfg, func() { svc.Close() }, nil

	case "mymemory":
		cfg := translator.ServiceConfig{
			Email: stringSetting(mymemoryEmail, "mymemory.email"),
		}
		return translator.NewMyMemoryService(cfg.Email), cfg, noop, nil

	case "systran":
		cfg := translator.ServiceConfig{
			APIKey: stringSetting(systranKey, "systran.api_key"),
		}
		if cfg.APIKey == "" {
			return nil, translator.ServiceConfig{}, noop, fmt.Errorf("systran requires an API key (--systran-key or PEREKLADOC_SYSTRAN_API_KEY)")
		}
		return translator.NewSystranService(cfg.APIKey), cfg, noop, nil

	default:
		return nil, translator.ServiceConfig{}, noop, fmt.Errorf("unknown service: %s (available: google, mymemory, systran)", name)
	}
}

func stringSetting(flagValue, viperKey string) string {
	if flagValue != "" {
		return flagValue
	}
	return viper.GetString(viperKey)
}
