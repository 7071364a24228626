package main

import (
	"github.com/spf13/pflag"
)

// mustBind binds a flag into the shared viper instance. The flag only wins when it was set.
func mustBind(key string, flag *pflag.Flag) {
	if err := v.BindPFlag(key, flag); err != nil {
		panic(err)
	}
}
