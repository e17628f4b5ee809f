package main

import (
	"github.com/tsylvester/paynless-framework-sub003/cmd"
	"github.com/tsylvester/paynless-framework-sub003/pkg/env"
	"github.com/tsylvester/paynless-framework-sub003/pkg/log"
)

func main() {
	if err := env.Process(); err != nil {
		log.Fatal("environment failure", "error", err)
	}

	if err := cmd.Execute(); err != nil {
		log.Fatal("dialectic failure", "error", err)
	}
}
