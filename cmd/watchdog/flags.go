package main

import "time"

const defaultAPITimeout = 10 * time.Second

// GlobalFlags holds persistent flags shared by every subcommand.
type GlobalFlags struct {
	ConfigPath string
}

type StatusFlags struct {
	ConfigPath string
	Name       string
	APIUrl     string
	APITimeout time.Duration
	Insecure   bool
}
