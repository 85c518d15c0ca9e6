package common

import "os"

func envHome() string {
	return os.Getenv("HOME")
}
