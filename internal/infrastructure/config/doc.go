// Package config loads and validates the gateway configuration.
//
// Values are resolved in this order, later sources winning:
//  1. Built-in defaults
//  2. The YAML file passed to Load
//  3. The add-on options file (Home Assistant options.json), if configured
//  4. NEASMART_* environment variables
//
// Validate collects every problem into a single ErrInvalidConfig. A
// configuration error is fatal: the process must not open the register store
// or serve either protocol with a configuration it could not verify.
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    return err
//	}
//	fmt.Println(cfg.Modbus.Address())
package config
