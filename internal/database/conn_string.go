package database

import (
	"net"
	"net/url"
	"strconv"

	"github.com/rickgao/blackjack-market/internal/config"
)

// applicationName tags journal sessions in pg_stat_activity.
const applicationName = "bjclient"

// BuildConnString builds a PostgreSQL connection URL from config.
func BuildConnString(cfg config.DBConfig) string {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "prefer"
	}

	q := url.Values{}
	q.Set("sslmode", sslMode)
	q.Set("application_name", applicationName)

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Path:     "/" + cfg.Name,
		RawQuery: q.Encode(),
	}
	return u.String()
}
