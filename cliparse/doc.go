// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package cliparse handles command-line flags and configuration loading.

# Sources

Load resolves a Config in order, later sources winning:

 1. DefaultConfig
 2. the YAML file given by --config
 3. the dotenv file given by --env-file (existing variables win)
 4. environment variables
 5. flags explicitly set on the command line

Bind registers the flags on a cobra or pflag flag set:

	flags := cliparse.Bind(root.PersistentFlags())
	cfg, err := flags.Load()

# CLI Flags

	-c, --config        YAML config file
	--env-file          dotenv file (default .env)
	-p, --port          Server port
	-d, --database-url  Database URL
	-t, --database-type sqlite or postgres (guessed from the URL)
	--redis-url         Redis URL
	--metrics-addr      Prometheus listen address
	--jwt-secret        Session signing secret
	--ip-salt           IP hashing salt

# Environment Variables

Nested settings use a prefix: LOG_FORMAT, RATE_LIMIT_AUTH_PER_MIN,
CHAT_API_KEY, CHAIN_RPC_URL, SMTP_HOST, PAYMENTS_WEBHOOK_SECRET.
Secrets are never read from the YAML file.

# Validation

Load returns an error when:

  - DATABASE_URL is missing or the database type is unsupported
  - JWT_SECRET is shorter than 16 characters
  - IP_HASH_SALT is missing
*/
package cliparse
