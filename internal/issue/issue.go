// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"maps"
	"slices"

	"github.com/charmbracelet/glamour"
)

type Id int

const (
	ManifestInvalidId Id = iota + 1
	ManifestNotFoundId
	DependencySpecInvalidId
	RetrievalFailedId
	FingerprintConflictId
	DependencyCycleId
	VersionConflictId
	ConfigLoadFailedId
	LockFileDriftId
	LockFileInvalidId
)

type MarkdownMsg string

type HttpLink string

type Renderer interface {
	Render(in string, stylePath string) (string, error)
}

type Issue struct {
	id       Id          // ID used to lookup the issue
	mdMsg    MarkdownMsg // Markdown text that will be rendered
	docLinks []HttpLink
	extLinks []HttpLink // external links that might be useful for the user
}

func (i *Issue) Id() Id {
	return i.id
}

func (i *Issue) MarkdownMsg() MarkdownMsg {
	return i.mdMsg
}

func (i *Issue) DocLinks() []HttpLink {
	return slices.Clone(i.docLinks)
}

func (i *Issue) ExtLinks() []HttpLink {
	return slices.Clone(i.extLinks)
}

func (i *Issue) Render(stylePath string) (string, error) {
	extraMd := ""
	if len(i.docLinks) > 0 || len(i.extLinks) > 0 {
		extraMd += "\n\n## See also\n"
		for _, link := range i.docLinks {
			extraMd += "- <" + string(link) + ">\n"
		}
		for _, link := range i.extLinks {
			extraMd += "- <" + string(link) + ">\n"
		}
	}
	return render(string(i.mdMsg)+extraMd, stylePath)
}

var (
	render = glamour.Render

	manifestInvalidIssue = &Issue{
		id: ManifestInvalidId,
		mdMsg: `
# Invalid circuit.toml!

A package manifest could not be parsed or failed validation.

## Common issues:
- A required field is missing (` + "`name`" + `, ` + "`version`" + `)
- ` + "`version`" + ` is not a semantic version such as ` + "`1.2.0`" + `
- A dependency declares both ` + "`path`" + ` and ` + "`network`" + `, or neither

## Example manifest:
~~~toml
name = "adder"
version = "0.1.0"

[dependencies.hash]
version = "^1.0"
network = "github.com/circkit/hash"
~~~

## Things you can try:
~~~
$ circpkg manifest check
~~~`,
	}

	manifestNotFoundIssue = &Issue{
		id: ManifestNotFoundId,
		mdMsg: `
# No circuit.toml found!

circpkg looks for ` + "`circuit.toml`" + ` in the directory you pass, or the current directory.

## Things you can try:
- Run circpkg from the package root
- Pass the package directory explicitly:
~~~
$ circpkg resolve path/to/package
~~~`,
	}

	dependencySpecInvalidIssue = &Issue{
		id: DependencySpecInvalidId,
		mdMsg: `
# Invalid dependency!

A dependency declaration could not be turned into a source.

## Things you can try:
- Declare exactly one of ` + "`path`" + ` or ` + "`network`" + `
- Make sure a local ` + "`path`" + ` points at a directory containing circuit.toml
- Only network dependencies accept ` + "`revision`",
	}

	retrievalFailedIssue = &Issue{
		id: RetrievalFailedId,
		mdMsg: `
# Failed to fetch a dependency!

A network dependency could not be downloaded. Nothing was written to the cache.

## Things you can try:
- Check your network connection and the registry id
- Check that the revision (tag, branch or commit) exists
- Increase the timeout:
~~~
$ CIRCPKG_FETCH_TIMEOUT=5m circpkg resolve
~~~`,
	}

	fingerprintConflictIssue = &Issue{
		id: FingerprintConflictId,
		mdMsg: `
# Cached package changed upstream!

The registry returned different contents for a package that is already cached.
The cached copy was kept.

## Things you can try:
- Pin the dependency to a ` + "`revision`" + `
- If the change is expected, drop the cached entry and fetch again:
~~~
$ circpkg cache invalidate <key>
$ circpkg resolve --refresh
~~~`,
	}

	dependencyCycleIssue = &Issue{
		id: DependencyCycleId,
		mdMsg: `
# Dependency cycle detected!

Packages depend on each other in a loop, so no build order exists.

## Things you can try:
- Follow the chain printed above and remove one of the dependencies
- Move the shared code into a separate package both can depend on`,
	}

	versionConflictIssue = &Issue{
		id: VersionConflictId,
		mdMsg: `
# Version conflict!

No available version of a package satisfies every requirement placed on it.

## Things you can try:
- Relax one of the listed requirements
- Point the conflicting dependencies at a source that has a compatible version
- Refresh cached packages in case a newer version was published:
~~~
$ circpkg resolve --refresh
~~~`,
	}

	configLoadFailedIssue = &Issue{
		id: ConfigLoadFailedId,
		mdMsg: `
# Failed to load configuration!

## Things you can try:
- Print the effective configuration:
~~~
$ circpkg config show
~~~
- Check CIRCPKG_* environment variables`,
	}

	lockFileDriftIssue = &Issue{
		id: LockFileDriftId,
		mdMsg: `
# Resolution differs from circuit.lock.cue!

A locked resolution was requested but the dependency tree changed.

## Things you can try:
- Review the manifest change and regenerate the lock file:
~~~
$ circpkg lock
~~~`,
	}

	lockFileInvalidIssue = &Issue{
		id: LockFileInvalidId,
		mdMsg: `
# Invalid circuit.lock.cue!

The lock file is generated; do not edit it by hand.

## Things you can try:
~~~
$ circpkg lock
~~~`,
	}

	issues = map[Id]*Issue{
		manifestInvalidIssue.Id():       manifestInvalidIssue,
		manifestNotFoundIssue.Id():      manifestNotFoundIssue,
		dependencySpecInvalidIssue.Id(): dependencySpecInvalidIssue,
		retrievalFailedIssue.Id():       retrievalFailedIssue,
		fingerprintConflictIssue.Id():   fingerprintConflictIssue,
		dependencyCycleIssue.Id():       dependencyCycleIssue,
		versionConflictIssue.Id():       versionConflictIssue,
		configLoadFailedIssue.Id():      configLoadFailedIssue,
		lockFileDriftIssue.Id():         lockFileDriftIssue,
		lockFileInvalidIssue.Id():       lockFileInvalidIssue,
	}
)

// Values returns every registered issue ordered by id.
func Values() []*Issue {
	out := slices.Collect(maps.Values(issues))
	slices.SortFunc(out, func(a, b *Issue) int { return int(a.id) - int(b.id) })
	return out
}

func Get(id Id) *Issue {
	return issues[id]
}
