package catalog

import (
	"fmt"
	"os"
	"strings"
)

// EnvCredentialProvider resolves storage credentials from environment
// variables, DSYNC_<PROFILE>_ACCESS_KEY_ID / _ACCESS_KEY / _REGION with the
// profile upper-cased and dashes mapped to underscores. The local profile
// needs no credentials and always resolves to an empty set.
type EnvCredentialProvider struct{}

func (EnvCredentialProvider) GetCredentials(profile string) (Credentials, error) {
	if profile == "" || profile == "file" {
		return Credentials{}, nil
	}
	prefix := "DSYNC_" + strings.ToUpper(strings.ReplaceAll(profile, "-", "_"))
	id := os.Getenv(prefix + "_ACCESS_KEY_ID")
	key := os.Getenv(prefix + "_ACCESS_KEY")
	if id == "" && key == "" {
		return Credentials{}, fmt.Errorf("no credentials in environment for profile %s (%s_ACCESS_KEY_ID)", profile, prefix)
	}
	return Credentials{
		AccessKeyID: id,
		AccessKey:   key,
		Region:      os.Getenv(prefix + "_REGION"),
	}, nil
}
