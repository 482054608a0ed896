package config

import "os"

func IsDebug() bool {
	return os.Getenv("CAPASSIST_DEBUG") == "1"
}
