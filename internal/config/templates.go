package config

import (
	"fmt"
	"os"

	gotoml "github.com/pelletier/go-toml/v2"
)

// defaultFile is the starter configuration written by `displayctl config init`.
func defaultFile() fileConfig {
	return fileConfig{
		Server: serverFile{
			Listen:         DefaultServer().Listen,
			CommandTimeout: "10s",
			StatusInterval: "30s",
		},
		Displays: []displayFile{
			{
				Name:           "lobby",
				Transport:      TransportTCP,
				Host:           "10.0.0.44",
				Port:           1515,
				DisplayID:      0,
				ReconnectDelay: "1s",
				CmdRate:        "10ms",
				RetryDelay:     "1s",
				RetryMaxCount:  3,
			},
			{
				Name:      "wall-left",
				Transport: TransportSerial,
				DisplayID: 1,
				Serial: serialFile{
					Device:   "/dev/ttyUSB0",
					BaudRate: 9600,
				},
			},
		},
	}
}

// Template renders the starter configuration as TOML.
func Template() ([]byte, error) {
	out, err := gotoml.Marshal(defaultFile())
	if err != nil {
		return nil, fmt.Errorf("config template render failed: %w", err)
	}
	return out, nil
}

// WriteTemplate writes the starter configuration to path.
func WriteTemplate(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	data, err := Template()
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
