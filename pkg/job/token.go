package job

import "strings"

const tokenPrefix = "jobkit:job:"

// EngineToken identifies the shared queue engine inside a Container
const EngineToken Token = "jobkit:engine"

// Token is the dependency-resolution identity of a job sender.
// It is derived from the job name by prefixing, never by hashing.
type Token string

// TokenFor returns the token of the sender for name
func TokenFor(name string) Token {
	return Token(tokenPrefix + name)
}

// JobName returns the job name a token was derived from,
// or an empty string for tokens that do not belong to a job.
func (t Token) JobName() string {
	name, ok := strings.CutPrefix(string(t), tokenPrefix)
	if !ok {
		return ""
	}
	return name
}

func (t Token) String() string {
	return string(t)
}
