package server

import (
	"fmt"
	"regexp"
	"time"

	"github.com/instant-chat/instant/assets"
	"github.com/instant-chat/instant/internal/fileproducer"
)

// htmlPageRule matches "/<name>.html" for the bare-page alias, where name
// starts with a letter; roomSlashRule matches "/room/<ROOM>/" for the room
// shell page, using the ROOM grammar.
var (
	htmlPageRule  = regexp.MustCompile(`^/([a-zA-Z][a-zA-Z0-9_-]*)\.html$`)
	roomSlashRule = regexp.MustCompile(`^/room/[a-zA-Z](?:[a-zA-Z0-9_-]*[a-zA-Z0-9])?/$`)

	// roomBareRule matches "/room/<ROOM>" with no trailing slash, for the
	// 301 canonicalization redirect.
	roomBareRule = regexp.MustCompile(`^/room/([a-zA-Z][a-zA-Z0-9_-]*[a-zA-Z0-9]|[a-zA-Z])$`)
)

// version and revision are overridable at link time (-ldflags
// "-X .../server.version=1.2.3 -X .../server.revision=$(git rev-parse --short HEAD)")
// for the synthetic /static/version.js producer.
var (
	version  = "0.0.0-dev"
	revision = "unknown"
)

// filesystemWhitelist is the path whitelist for the filesystem producer:
// only these prefixes are ever read off disk.
var filesystemWhitelist = []string{`^/pages/.*`, `^/static/.*`}

// buildProducerPipeline assembles the ordered producer chain (filesystem →
// embedded resource → synthetic) behind the alias resolver and content-type
// table. webroot defaults to "." (the working directory); a whitelisted path
// with no file under webroot is declined by the filesystem producer and falls
// through to the embedded assets.
func buildProducerPipeline(webroot string, cacheTTL time.Duration) *fileproducer.Pipeline {
	ct := fileproducer.DefaultContentTypes()

	synthetic := fileproducer.NewSyntheticProducer()
	synthetic.Register(
		"/static/version.js",
		[]byte(fmt.Sprintf(`this._instantVersion_ = {version:"%s", revision:"%s"};`, version, revision)),
		ct.Lookup("/static/version.js"),
	)

	alias := fileproducer.NewAliasResolver(buildAliasRules()...)

	return fileproducer.New(
		cacheTTL,
		alias,
		fileproducer.NewFilesystemProducer(webroot, filesystemWhitelist, ct),
		fileproducer.NewResourceProducer(assets.FS, "", ct),
		synthetic,
	)
}

// buildAliasRules returns the static alias set: "/" and
// "/<name>.html" resolve into pages/, "/room/<ROOM>/" resolves to the room
// shell page, and "/favicon.ico" resolves to the embedded icon.
func buildAliasRules() []fileproducer.AliasRule {
	return []fileproducer.AliasRule{
		{Literal: "/", Replacement: "/pages/main.html"},
		{Literal: "/favicon.ico", Replacement: "/static/logo-static_128x128.ico"},
		{Pattern: htmlPageRule, Replacement: `/pages/\1.html`},
		{Pattern: roomSlashRule, Replacement: "/static/room.html"},
	}
}
