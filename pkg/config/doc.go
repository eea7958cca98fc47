// Package config loads typed configuration structs from environment variables
// using github.com/caarlos0/env/v11, with an optional .env file read once per
// process through github.com/joho/godotenv.
//
// Config structs live next to the code they configure (pg.Config,
// redis.Config, billing.StripeConfig and so on) and are assembled by the
// service binary.
package config
