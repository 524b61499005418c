package bootstrap

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// Loadenv reads .env (or the files given) into the process environment. Variables
// already set win over the file.
func Loadenv(files ...string) {
	if err := godotenv.Load(files...); err != nil {
		fmt.Fprintln(os.Stderr, "No .env file found, using system environment variables")
	}
}
