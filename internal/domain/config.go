package domain

type Config struct {
	FQDN string `yaml:"fqdn"`
}
