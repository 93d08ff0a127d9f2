package main

import (
	"log"

	"github.com/joho/godotenv"

	approuters "github.com/DSkillz/ProNet-sub001/internal/app_routers"
	"github.com/DSkillz/ProNet-sub001/internal/configuration"
)

func main() {
	// .env is optional; real deployments set the environment directly
	_ = godotenv.Load()

	container, err := configuration.BuildContainer()
	if err != nil {
		log.Fatalf("Failed to build container: %v", err)
	}

	// Ensure cleanup on shutdown
	defer container.Close()

	approuters.StartServer(container)
}
