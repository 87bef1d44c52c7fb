package mongodb

const (
	DocumentsCollection   = "documents"           // workflow documents, default when none is configured
	UsersCollection       = "_users"              // user documents
	CheckpointsCollection = "docflow_checkpoints" // change stream resume tokens
	ConfigCollection      = "docflow_config"      // credential store entries

	// NamespaceCollection is created inside every provisioned channel database.
	NamespaceCollection = "docs"
)
