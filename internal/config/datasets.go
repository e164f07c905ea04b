package config

import (
	"fmt"
	"os"

	"github.com/goccy/go-yaml"
)

// DatasetSource is one upstream fire-data feed the harvester ingests.
type DatasetSource struct {
	URL string `yaml:"url"`
}

type datasetsFile struct {
	Datasets []DatasetSource `yaml:"datasets"`
}

// defaultSources are the NASA FIRMS global 24h active-fire feeds.
var defaultSources = []DatasetSource{
	{URL: "https://firms.modaps.eosdis.nasa.gov/data/active_fire/modis-c6.1/csv/MODIS_C6_1_Global_24h.csv"},
	{URL: "https://firms.modaps.eosdis.nasa.gov/data/active_fire/suomi-npp-viirs-c2/csv/SUOMI_VIIRS_C2_Global_24h.csv"},
	{URL: "https://firms.modaps.eosdis.nasa.gov/data/active_fire/noaa-20-viirs-c2/csv/J1_VIIRS_C2_Global_24h.csv"},
}

// LoadDatasets reads the harvest source list from the given YAML file, or
// returns the built-in FIRMS defaults when path is empty.
func LoadDatasets(path string) ([]DatasetSource, error) {
	if path == "" {
		return defaultSources, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read datasets file: %w", err)
	}

	var file datasetsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse datasets file %s: %w", path, err)
	}

	if len(file.Datasets) == 0 {
		return nil, fmt.Errorf("datasets file %s lists no datasets", path)
	}

	for _, source := range file.Datasets {
		if source.URL == "" {
			return nil, fmt.Errorf("datasets file %s contains an entry without a url", path)
		}
	}

	return file.Datasets, nil
}
