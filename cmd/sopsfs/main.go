// sopsfs is a command-line surface over the document registry: it lets you
// list, read, edit, remove and rename values inside SOPS-encrypted documents
// as if they were files, without ever writing plaintext to disk.
//
// Usage:
//
//	sopsfs ls secrets.sops.yaml
//	sopsfs cat secrets.sops.yaml app/password
//	sopsfs write secrets.sops.yaml app/password -d 'hunter2'
//	sopsfs mv secrets.sops.yaml app/password app/db_password
//	sopsfs rm secrets.sops.yaml app/password
//	sopsfs watch secrets.sops.yaml
//
// Key material is configured the same way as for sops itself, either through
// the inherited environment or with repeated --env flags (for example
// --env SOPS_AGE_KEY_FILE=/path/to/key).
package main

import "os"

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
