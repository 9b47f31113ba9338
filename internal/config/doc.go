/*
Package config provides configuration management for packfs with
multi-source support.

This package implements a hierarchical configuration system that supports
YAML files, environment variables, and command line overrides, with
validation across all packfs components.

# Configuration Architecture

Multi-source configuration hierarchy with precedence:

	┌─────────────────────────────────────────────┐
	│         Command Line Flags                  │ ← Highest Priority
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│        Environment Variables                │
	│            (PACKFS_*)                       │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│         Configuration Files                 │
	│            (YAML format)                    │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│           Default Values                    │ ← Lowest Priority
	└─────────────────────────────────────────────┘

# Configuration Structure

Collection:
- Governed collection root
- Filename pattern (suffix or glob)

Scratch:
- Remote and local scratch roots
- Retention toggles for debugging

Lock:
- Lock directory
- Acquisition timeout and poll interval
- Staleness ceiling for crashed holders

Codec:
- Compression algorithm (gzip, zstd)
- Compression level

Store:
- Backend selection (posix, s3)
- S3 bucket, region, endpoint, and credentials
- Optimized upload toggle

# Usage Example

	cfg := config.NewDefault()
	if err := cfg.LoadFromFile("/etc/packfs/config.yaml"); err != nil {
		log.Fatal(err)
	}
	if err := cfg.LoadFromEnv(); err != nil {
		log.Fatal(err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal(err)
	}

# Environment Variables

Every section maps onto PACKFS_-prefixed variables, for example:

	PACKFS_COLLECTION_ROOT=/iplant/home/shared
	PACKFS_COLLECTION_PATTERN=*.fastq
	PACKFS_CODEC=zstd
	PACKFS_LOCK_TIMEOUT=45s
	PACKFS_STORE_BACKEND=s3
	PACKFS_S3_BUCKET=genomics-data
*/
package config
