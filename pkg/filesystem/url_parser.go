package filesystem

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// DefaultSFTPPort is used when an sftp:// location omits the port.
const DefaultSFTPPort = 22

// Location is either a local path or an SFTP location.
type Location struct {
	IsRemote bool

	// LocalPath is set for local locations.
	LocalPath string

	// Host, Port, User and Path are set for sftp:// locations.
	Host string
	Port int
	User string
	Path string
}

// String renders the location back in the form ParseLocation accepts.
func (l Location) String() string {
	if !l.IsRemote {
		return l.LocalPath
	}

	return fmt.Sprintf("sftp://%s@%s:%d/%s", l.User, l.Host, l.Port, l.Path)
}

// IsRemoteLocation reports whether s names an SFTP location.
func IsRemoteLocation(s string) bool {
	return strings.HasPrefix(s, "sftp://")
}

// ParseLocation parses a job source or target.
// SFTP locations have the format sftp://user@host:port/path, port optional:
//   - sftp://joe@myserver.com/backups   (relative to the home directory)
//   - sftp://joe@myserver.com//srv/data (absolute /srv/data)
//   - /local/path/to/files              (local path)
func ParseLocation(s string) (*Location, error) {
	if IsRemoteLocation(s) {
		return parseSFTPURL(s)
	}

	return &Location{LocalPath: s}, nil
}

func parseSFTPURL(sftpURL string) (*Location, error) {
	u, err := url.Parse(sftpURL) //nolint:varnamelen // u is idiomatic for URL
	if err != nil {
		return nil, fmt.Errorf("invalid SFTP URL: %w", err)
	}

	if u.User == nil || u.User.Username() == "" {
		return nil, fmt.Errorf("SFTP URL must include username (sftp://user@host/path)") //nolint:err113,perfsprint // URL validation with format guidance
	}

	host := u.Hostname()
	if host == "" {
		return nil, fmt.Errorf("SFTP URL must include host") //nolint:err113,perfsprint // URL validation error
	}

	port := DefaultSFTPPort
	if portStr := u.Port(); portStr != "" {
		port, err = strconv.Atoi(portStr)
		if err != nil {
			return nil, fmt.Errorf("invalid port number: %w", err)
		}
	}

	remotePath := u.Path

	switch {
	case remotePath == "" || remotePath == "/":
		remotePath = "."
	case strings.HasPrefix(remotePath, "//"):
		remotePath = remotePath[1:]
	default:
		remotePath = strings.TrimPrefix(remotePath, "/")
	}

	return &Location{
		IsRemote: true,
		Host:     host,
		Port:     port,
		User:     u.User.Username(),
		Path:     remotePath,
	}, nil
}
