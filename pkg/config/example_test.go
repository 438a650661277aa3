package config_test

import (
	"fmt"

	"github.com/ajitpratap0/tabular/pkg/config"
)

func ExampleParseSize() {
	for _, s := range []string{"4096", "64k", "32m", "10MB"} {
		n, err := config.ParseSize(s)
		if err != nil {
			panic(err)
		}
		fmt.Println(s, n)
	}
	// Output:
	// 4096 4096
	// 64k 65536
	// 32m 33554432
	// 10MB 10000000
}

func ExampleConfig_Compression() {
	cfg := config.NewDefault()
	cfg.Storage.Codec = "lz4"
	cfg.Storage.CompressionLevel = 3
	comp, err := cfg.Compression()
	if err != nil {
		panic(err)
	}
	fmt.Println(comp)
	// Output: lz4:3
}
