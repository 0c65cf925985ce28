package models

import "time"

// EnginePostgres is the only database engine tenants are provisioned on.
const EnginePostgres = "postgres"

// DatabaseCredentials is the bundle stored in the secret store per tenant.
type DatabaseCredentials struct {
	Username     string `json:"username"`
	Password     string `json:"password"`
	Host         string `json:"host"`
	Port         int    `json:"port"`
	DatabaseName string `json:"dbname"`
	Engine       string `json:"engine"`
}

// SecretMetadata identifies a stored secret version.
type SecretMetadata struct {
	Name      string    `json:"name"`
	ARN       string    `json:"arn"`
	Version   string    `json:"version"`
	CreatedAt time.Time `json:"createdAt"`
}
