package constants

import "time"

const (
	KafkaBatchTimeout = 10 * time.Millisecond
	KafkaWriteTimeout = 10 * time.Second
)

const (
	ShutdownTimeout = 5 * time.Second
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 500
)

const (
	DefaultAuditLimit = 100
	MaxAuditLimit     = 1000
)

const (
	DefaultCalcWorkers = 8
	MaxCalcWorkers     = 64
)

const (
	CacheKeyPrefixCalc = "calc:"
)

const (
	DefaultMongoDBName = "velo"
)

const (
	CollectionEvents    = "events"
	CollectionWorkItems = "work_items"
	CollectionOrgUnits  = "org_units"
)

// SCM classification classes a profile may define rules for.
const (
	SCMClassDefect     = "defect"
	SCMClassDeployment = "deployment"
	SCMClassRelease    = "release"
	SCMClassHotfix     = "hotfix"
)
