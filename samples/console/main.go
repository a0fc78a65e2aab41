package main

import (
	"fmt"
	"log"

	"github.com/MarkBiesheuvel/optimizely-go-sdk"
)

func main() {
	client, err := optimizely.NewClient("<YOUR-SDK-KEY>")
	if err != nil {
		log.Fatal(err)
	}
	defer client.Close()

	// create a user context to identify the caller
	user := client.CreateUserContext("visitor-42")
	user.SetStringAttribute("country", "US")

	// decide which variation of a flag the user is served
	decision := user.Decide("checkout_redesign")

	fmt.Println("checkout_redesign:", decision.VariationKey, "enabled:", decision.Enabled)

	// report a conversion event for the user
	user.TrackEvent("purchase", map[string]string{"revenue": "4200"}, nil)
}
