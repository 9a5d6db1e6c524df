// cmd/main.go
package main

import (
	"go-admission-api/app"
)

// @title           Admission Gateway API
// @version         1.0
// @description     Session tokens and per-identity rate limiting in front of the game services.

// @host      localhost:8080
// @BasePath  /
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
func main() {
	app.Run()
}
