package config

import (
	"fmt"
	"io"
	"io/ioutil"
	"os"

	"github.com/hashicorp/hcl"
)

func (c *Config) load(r io.Reader) error {
	b, err := ioutil.ReadAll(r)
	if err != nil {
		return err
	}

	var cfg map[string]interface{}
	err = hcl.Decode(&cfg, string(b))
	if err != nil {
		return err
	}
	for name, val := range cfg {
		p, ok := c.params[name]
		if !ok {
			return fmt.Errorf("%s is not a config param", name)
		}
		if (p.opts & NoConfigFile) != 0 {
			return fmt.Errorf("%s may not be set in a config file", name)
		}
		err = p.setValue(val, byConfig)
		if err != nil {
			return err
		}
	}

	return nil
}

// Load reads an hcl config file. A missing file is not an error when
// optional is true.
func (c *Config) Load(configFile string, optional bool) error {
	f, err := os.Open(configFile)
	if err != nil {
		if optional && os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	err = c.load(f)
	if err != nil {
		return fmt.Errorf("%s: %s", configFile, err)
	}
	return nil
}
