package config

// Template is the annotated sample configuration printed by `crm-backup config`
const Template = `# crm-backup configuration file
# Every key can also be set with a CRM_BACKUP_ environment variable,
# e.g. CRM_BACKUP_DATABASE_HOST or CRM_BACKUP_STORAGE_PROVIDER.

# CRM database connection
database:
  host: localhost
  port: 3306
  username: crm
  password: ""              # prefer CRM_BACKUP_DATABASE_PASSWORD
  database: crm
  timeout: 30s
  max_open_conns: 10
  max_idle_conns: 5
  conn_max_lifetime: 5m

# Backup pipeline
backup:
  # Name of the environment variable holding the artifact secret.
  # Backups, restores and inspections fail when it is unset.
  encryption_key_env: BACKUP_ENCRYPTION_KEY
  compression: zstd         # zstd, gzip or lz4
  compression_level: 0      # 0 = algorithm default
  read_concurrency: 4       # tables read at once within a size group
  read_page_size: 1000      # rows per SELECT page
  batch_size: 50            # rows per INSERT during restore
  max_params: 65535         # placeholder ceiling of one statement
  strict_version: false     # refuse snapshots written by another format version
  retention:                # used by "backup prune"; an artifact survives if any rule keeps it
    keep_last: 0            # newest N artifacts
    max_age: 0s             # artifacts younger than this, e.g. 720h
    keep_daily: 0           # newest artifact of each of the last N days

# Where artifacts are kept by "backup create --store" and "backup list"
storage:
  provider: local           # local, s3, azure or gcs
  local:
    base_path: ./backups
  # s3:
  #   bucket: crm-backups
  #   region: us-east-1
  #   prefix: backups/
  #   endpoint: ""          # S3 compatible endpoint, e.g. MinIO
  #   force_path_style: false
  # azure:
  #   account_name: ""
  #   account_key: ""
  #   container_name: crm-backups
  # gcs:
  #   bucket: crm-backups
  #   credentials_path: ""
  # mirrors:                # every stored artifact is also written here
  #   - provider: s3
  #     s3:
  #       bucket: crm-backups-dr
  #       region: eu-west-1

# HTTP server started by "crm-backup serve"
api:
  listen_addr: ":8080"
  max_restore_bytes: 536870912
  read_timeout: 5m
  write_timeout: 10m
  shutdown_timeout: 30s
  tokens:
    - token: change-me
      actor: admin@example.com
      roles: [admin]

logging:
  level: normal             # quiet, normal, verbose or debug
  format: text              # text or json
  file: ""

audit:
  sql: true                 # write entries into the audit_logs table
  file: ""                  # also append JSON lines to this file

# Security recommendations:
# 1. Keep the artifact secret out of this file: export BACKUP_ENCRYPTION_KEY=...
# 2. Set restrictive file permissions: chmod 600 crm-backup.yaml
# 3. Losing the secret makes every existing artifact unrecoverable
`
