package config

// Configuration keys. Environment variables use the EXPAT_ prefix with dots and
// dashes replaced by underscores, e.g. EXPAT_DATABASE_URL.
const (
	KeyExpatDir   = "expat.dir"
	KeyDryRun     = "expat.dry_run"
	KeyDBDriver   = "database.driver"
	KeyDBURL      = "database.url"
	KeyDBUser     = "database.user"
	KeyDBPassword = "database.password"

	KeyHopsUser    = "hops.client.user"
	KeyWebHDFSURL  = "hops.webhdfs.url"
	KeyInodesTable = "hops.inodes.table"
	KeyHadoopHome  = "hadoop.home"

	KeyElasticURL  = "services.elastic-url"
	KeyElasticUser = "elastic.user"
	KeyElasticPass = "elastic.pass"

	KeyEpipePath      = "epipe.path"
	KeyEpipeReindex   = "epipe.reindex"
	KeyEpipeLibraries = "epipe.ld_library_path"
	KeyEpipeTimeout   = "epipe.timeout"

	KeyKubeMasterURL = "kube.master_url"
	KeyKubeTokenFile = "kube.token_file"
	KeyKubeCAFile    = "kube.ca_file"

	KeyMasterPasswordFile = "x509.master_password_file"

	KeyLogLevel  = "log.level"
	KeyLogFormat = "log.format"
)

// Keys lists every key the tool reads.
var Keys = []string{
	KeyExpatDir, KeyDryRun,
	KeyDBDriver, KeyDBURL, KeyDBUser, KeyDBPassword,
	KeyHopsUser, KeyWebHDFSURL, KeyInodesTable, KeyHadoopHome,
	KeyElasticURL, KeyElasticUser, KeyElasticPass,
	KeyEpipePath, KeyEpipeReindex, KeyEpipeLibraries, KeyEpipeTimeout,
	KeyKubeMasterURL, KeyKubeTokenFile, KeyKubeCAFile,
	KeyMasterPasswordFile,
	KeyLogLevel, KeyLogFormat,
}

// secretKeys are masked when configuration is printed.
var secretKeys = map[string]bool{
	KeyDBPassword:  true,
	KeyElasticPass: true,
}
