package config

import "github.com/joho/godotenv"

// LoadEnv loads a .env file from the working directory. Variables already
// set in the environment win. A missing file is reported as an
// os.ErrNotExist error so callers can treat it as a warning.
func LoadEnv() error {
	return godotenv.Load()
}
