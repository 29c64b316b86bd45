package ident

import (
	"fmt"
	"strings"
)

const MaxRepoIDLength = 64

// RepoID names a repository directory: 1-64 chars of [a-z0-9._-], starting alphanumeric.
type RepoID string

func ParseRepoID(s string) (RepoID, error) {
	if s == "" || len(s) > MaxRepoIDLength {
		return "", fmt.Errorf("repository id must be 1-%d characters", MaxRepoIDLength)
	}
	if !isAlnum(s[0]) {
		return "", fmt.Errorf("repository id %q must start with a letter or digit", s)
	}
	if strings.Contains(s, "..") {
		return "", fmt.Errorf("repository id %q must not contain '..'", s)
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !isAlnum(c) && c != '.' && c != '_' && c != '-' {
			return "", fmt.Errorf("repository id %q contains invalid character %q", s, c)
		}
	}
	return RepoID(s), nil
}

func isAlnum(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9')
}

func (r RepoID) String() string { return string(r) }
