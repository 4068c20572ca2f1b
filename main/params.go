// (c) 2024, SVM Labs. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"flag"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/svm-labs/svm/runtime"
)

const (
	versionKey     = "version"
	portKey        = "port"
	dataDirKey     = "data-dir"
	memoryPagesKey = "memory-pages"
)

// Config is the daemon configuration, built from flags and environment.
type Config struct {
	PrintVersion     bool
	Port             uint
	DataDir          string
	MemoryLimitPages uint32
}

func buildFlagSet() *flag.FlagSet {
	fs := flag.NewFlagSet(runtime.Name, flag.ContinueOnError)

	fs.Bool(versionKey, false, "If true, prints version and quits")
	fs.Uint(portKey, 9944, "Port the JSON-RPC API listens on")
	fs.String(dataDirKey, "", "Directory for persistent state; empty runs in-memory")
	fs.Uint(memoryPagesKey, 256, "Guest memory limit per invocation, in 64KiB wasm pages")

	return fs
}

// getViper returns the viper environment for the daemon
func getViper() (*viper.Viper, error) {
	v := viper.New()

	fs := buildFlagSet()
	pflag.CommandLine.AddGoFlagSet(fs)
	pflag.Parse()
	if err := v.BindPFlags(pflag.CommandLine); err != nil {
		return nil, err
	}

	return v, nil
}

func getConfig() (Config, error) {
	v, err := getViper()
	if err != nil {
		return Config{}, err
	}

	return Config{
		PrintVersion:     v.GetBool(versionKey),
		Port:             v.GetUint(portKey),
		DataDir:          v.GetString(dataDirKey),
		MemoryLimitPages: v.GetUint32(memoryPagesKey),
	}, nil
}
