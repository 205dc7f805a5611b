package project

import (
	"cmp"
	"encoding/xml"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"

	"github.com/standardbeagle/autousing/internal/config"
	autoerrors "github.com/standardbeagle/autousing/internal/errors"
	"github.com/standardbeagle/autousing/pkg/pathutil"
)

// fallbackFrameworks is tried, in order, after the project's own target
// frameworks when choosing a package's lib folder
var fallbackFrameworks = []string{
	"net9.0", "net8.0", "net7.0", "net6.0", "net5.0",
	"netcoreapp3.1", "netcoreapp3.0", "netcoreapp2.1",
	"netstandard2.1", "netstandard2.0", "netstandard1.6", "netstandard1.3",
	"net48", "net472", "net471", "net47", "net462", "net461", "net46", "net45", "net40",
}

// MSBuild project file shape. Only what reference extraction needs is
// declared; old-style files carry an xmlns, which matches because the tags
// name no namespace.
type msbuildProject struct {
	XMLName        xml.Name               `xml:"Project"`
	PropertyGroups []msbuildPropertyGroup `xml:"PropertyGroup"`
	ItemGroups     []msbuildItemGroup     `xml:"ItemGroup"`
}

type msbuildPropertyGroup struct {
	Properties []msbuildProperty `xml:",any"`
}

type msbuildProperty struct {
	XMLName xml.Name
	Value   string `xml:",chardata"`
}

type msbuildItemGroup struct {
	References        []msbuildReference        `xml:"Reference"`
	PackageReferences []msbuildPackageReference `xml:"PackageReference"`
	ProjectReferences []msbuildProjectReference `xml:"ProjectReference"`
}

type msbuildReference struct {
	Include  string `xml:"Include,attr"`
	HintPath string `xml:"HintPath"`
}

type msbuildPackageReference struct {
	Include        string `xml:"Include,attr"`
	Version        string `xml:"Version,attr"`
	VersionElement string `xml:"Version"`
}

type msbuildProjectReference struct {
	Include string `xml:"Include,attr"`
}

// ProjectFile is the reference set extracted from one project file
type ProjectFile struct {
	Path             string
	Name             string
	Dir              string
	TargetFrameworks []string
	// Assemblies are reference binaries and manifests in document order:
	// hint paths and named framework references, then packages, then every
	// assembly in the framework directories
	Assemblies []string
	// SourceDirs are the directories of referenced projects
	SourceDirs []string
	// Unresolved names references that could not be located
	Unresolved []string
}

// Paths is everything the indexer should load, assemblies first
func (pf *ProjectFile) Paths() []string {
	out := make([]string, 0, len(pf.Assemblies)+len(pf.SourceDirs))
	out = append(out, pf.Assemblies...)
	return append(out, pf.SourceDirs...)
}

// ResolverOptions configures reference resolution
type ResolverOptions struct {
	FrameworkDirs []string
	NuGetPackages string
	LookupEnv     func(string) (string, bool)
	Logger        *zap.Logger
}

// Resolver turns project files into reference paths
type Resolver struct {
	frameworkDirs []string
	nugetPackages string
	lookupEnv     func(string) (string, bool)
	logger        *zap.Logger
}

// NewResolver creates a resolver
func NewResolver(opts ResolverOptions) *Resolver {
	if opts.LookupEnv == nil {
		opts.LookupEnv = os.LookupEnv
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Resolver{
		frameworkDirs: opts.FrameworkDirs,
		nugetPackages: opts.NuGetPackages,
		lookupEnv:     opts.LookupEnv,
		logger:        opts.Logger,
	}
}

// ResolverFromConfig maps the index section of the configuration
func ResolverFromConfig(cfg *config.Config, logger *zap.Logger) *Resolver {
	return NewResolver(ResolverOptions{
		FrameworkDirs: cfg.Index.FrameworkDirs,
		NuGetPackages: cfg.Index.NuGetPackages,
		Logger:        logger,
	})
}

// Resolve reads a project file and locates its references. A file that
// cannot be read or is not MSBuild XML is MalformedProjectFile.
func (r *Resolver) Resolve(projectPath string) (*ProjectFile, error) {
	abs, err := filepath.Abs(projectPath)
	if err != nil {
		return nil, malformed(projectPath, err).WithReason(autoerrors.ReasonUnreadable)
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, malformed(abs, err).WithReason(autoerrors.ReasonUnreadable)
	}

	var doc msbuildProject
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, malformed(abs, err)
	}

	dir := filepath.Dir(abs)
	name := strings.TrimSuffix(filepath.Base(abs), filepath.Ext(abs))
	pf := &ProjectFile{Path: abs, Name: name, Dir: dir}

	lookup := r.propertyLookup(&doc, abs)
	if tfm, ok := lookup("TargetFramework"); ok && tfm != "" {
		pf.TargetFrameworks = append(pf.TargetFrameworks, strings.ToLower(strings.TrimSpace(tfm)))
	}
	if tfms, ok := lookup("TargetFrameworks"); ok {
		for _, tfm := range strings.Split(tfms, ";") {
			if tfm = strings.ToLower(strings.TrimSpace(tfm)); tfm != "" && !slices.Contains(pf.TargetFrameworks, tfm) {
				pf.TargetFrameworks = append(pf.TargetFrameworks, tfm)
			}
		}
	}

	seen := make(map[string]bool)
	addAssembly := func(p string) {
		if p != "" && !seen[p] {
			seen[p] = true
			pf.Assemblies = append(pf.Assemblies, p)
		}
	}

	for _, group := range doc.ItemGroups {
		for _, ref := range group.References {
			if hint := strings.TrimSpace(ref.HintPath); hint != "" {
				addAssembly(pathutil.FromMSBuild(pathutil.ExpandProperties(hint, lookup), dir))
				continue
			}
			if p, ok := r.frameworkAssembly(ref.Include); ok {
				addAssembly(p)
			} else if id := assemblyName(ref.Include); id != "" {
				pf.Unresolved = append(pf.Unresolved, id)
			}
		}
	}
	for _, group := range doc.ItemGroups {
		for _, pkg := range group.PackageReferences {
			dlls, err := r.packageAssemblies(pkg, pf.TargetFrameworks, lookup)
			if err != nil {
				r.logger.Debug("package not resolved",
					zap.String("project", abs), zap.String("package", pkg.Include), zap.Error(err))
				pf.Unresolved = append(pf.Unresolved, pkg.Include)
				continue
			}
			for _, dll := range dlls {
				addAssembly(dll)
			}
		}
	}
	for _, group := range doc.ItemGroups {
		for _, ref := range group.ProjectReferences {
			include := strings.TrimSpace(ref.Include)
			if include == "" {
				continue
			}
			target := pathutil.FromMSBuild(pathutil.ExpandProperties(include, lookup), dir)
			srcDir := filepath.Dir(target)
			if srcDir != dir && !slices.Contains(pf.SourceDirs, srcDir) {
				pf.SourceDirs = append(pf.SourceDirs, srcDir)
			}
		}
	}
	for _, dll := range r.implicitAssemblies() {
		addAssembly(dll)
	}
	return pf, nil
}

func malformed(path string, err error) *autoerrors.Error {
	return autoerrors.New(autoerrors.CodeMalformedProjectFile, "parse project file", err).WithPath(path)
}

// propertyLookup resolves $(Name) from reserved MSBuild properties, then
// properties the project declares, then the environment. Declared values
// may themselves reference earlier properties.
func (r *Resolver) propertyLookup(doc *msbuildProject, projectPath string) func(string) (string, bool) {
	dir := filepath.Dir(projectPath)
	reserved := map[string]string{
		"MSBuildProjectDirectory":  dir,
		"MSBuildProjectFullPath":   projectPath,
		"MSBuildProjectName":       strings.TrimSuffix(filepath.Base(projectPath), filepath.Ext(projectPath)),
		"MSBuildThisFileDirectory": dir + string(filepath.Separator),
		"ProjectDir":               dir + string(filepath.Separator),
	}
	declared := make(map[string]string)
	lookup := pathutil.ChainLookup(pathutil.MapLookup(reserved), func(name string) (string, bool) {
		v, ok := declared[strings.ToLower(name)]
		return v, ok
	}, r.lookupEnv)

	for _, group := range doc.PropertyGroups {
		for _, prop := range group.Properties {
			declared[strings.ToLower(prop.XMLName.Local)] = pathutil.ExpandProperties(strings.TrimSpace(prop.Value), lookup)
		}
	}
	return lookup
}

// assemblyName strips the strong-name suffix from an Include value:
// "System.Xml, Version=4.0.0.0, Culture=neutral" becomes "System.Xml"
func assemblyName(include string) string {
	name, _, _ := strings.Cut(include, ",")
	return strings.TrimSpace(name)
}

func (r *Resolver) frameworkAssembly(include string) (string, bool) {
	name := assemblyName(include)
	if name == "" {
		return "", false
	}
	for _, dir := range r.frameworkDirs {
		candidate := filepath.Join(dir, name+".dll")
		if info, err := os.Stat(candidate); err == nil && info.Mode().IsRegular() {
			return candidate, true
		}
	}
	return "", false
}

func (r *Resolver) implicitAssemblies() []string {
	var out []string
	for _, dir := range r.frameworkDirs {
		matches, err := doublestar.Glob(os.DirFS(dir), "*.dll")
		if err != nil {
			r.logger.Debug("framework directory not listed", zap.String("dir", dir), zap.Error(err))
			continue
		}
		slices.Sort(matches)
		for _, m := range matches {
			out = append(out, filepath.Join(dir, filepath.FromSlash(m)))
		}
	}
	return out
}

var errNoPackagesFolder = errors.New("no NuGet packages folder configured")

// compareVersions orders NuGet version folders numerically by dotted part,
// so 13.10.0 sorts after 13.9.0. A prerelease sorts before its release.
func compareVersions(a, b string) int {
	aCore, aPre, aHasPre := strings.Cut(a, "-")
	bCore, bPre, bHasPre := strings.Cut(b, "-")

	aParts := strings.Split(aCore, ".")
	bParts := strings.Split(bCore, ".")
	for i := 0; i < max(len(aParts), len(bParts)); i++ {
		var ap, bp string
		if i < len(aParts) {
			ap = aParts[i]
		}
		if i < len(bParts) {
			bp = bParts[i]
		}
		if c := compareVersionPart(ap, bp); c != 0 {
			return c
		}
	}

	switch {
	case aHasPre && !bHasPre:
		return -1
	case !aHasPre && bHasPre:
		return 1
	}
	return strings.Compare(aPre, bPre)
}

// compareVersionPart compares numerically when both parts are numbers. A
// missing part counts as zero.
func compareVersionPart(a, b string) int {
	if a == "" {
		a = "0"
	}
	if b == "" {
		b = "0"
	}
	an, aErr := strconv.Atoi(a)
	bn, bErr := strconv.Atoi(b)
	if aErr == nil && bErr == nil {
		return cmp.Compare(an, bn)
	}
	return strings.Compare(a, b)
}

// packageAssemblies finds <packages>/<id>/<version>/lib/<tfm>/*.dll. The
// version may be a wildcard ("13.*"); the highest matching folder wins.
func (r *Resolver) packageAssemblies(pkg msbuildPackageReference, tfms []string, lookup func(string) (string, bool)) ([]string, error) {
	if r.nugetPackages == "" {
		return nil, errNoPackagesFolder
	}
	id := strings.ToLower(strings.TrimSpace(pkg.Include))
	version := strings.TrimSpace(pkg.Version)
	if version == "" {
		version = strings.TrimSpace(pkg.VersionElement)
	}
	version = strings.ToLower(pathutil.ExpandProperties(version, lookup))
	version = strings.Trim(version, "[]()")
	if lo, _, found := strings.Cut(version, ","); found {
		// a range: the lower bound is what restore picks
		version = strings.TrimSpace(lo)
	}
	if id == "" || version == "" {
		return nil, fmt.Errorf("package reference %q has no version", pkg.Include)
	}

	root := filepath.Join(r.nugetPackages, id)
	versionDir := filepath.Join(root, version)
	if strings.Contains(version, "*") {
		matches, err := doublestar.Glob(os.DirFS(root), version)
		if !strings.Contains(version, "-") {
			// floating versions skip prereleases unless they ask for one
			matches = slices.DeleteFunc(matches, func(m string) bool { return strings.Contains(m, "-") })
		}
		if err != nil || len(matches) == 0 {
			return nil, fmt.Errorf("no installed version of %s matches %s", id, version)
		}
		slices.SortFunc(matches, compareVersions)
		versionDir = filepath.Join(root, matches[len(matches)-1])
	}

	dlls, err := doublestar.Glob(os.DirFS(versionDir), "lib/*/*.dll")
	if err != nil {
		return nil, err
	}
	if len(dlls) == 0 {
		if _, statErr := os.Stat(versionDir); errors.Is(statErr, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s %s is not installed", id, version)
		}
		return nil, nil
	}

	byFramework := make(map[string][]string)
	var frameworks []string
	for _, m := range dlls {
		tfm := strings.ToLower(path.Base(path.Dir(m)))
		if _, ok := byFramework[tfm]; !ok {
			frameworks = append(frameworks, tfm)
		}
		byFramework[tfm] = append(byFramework[tfm], filepath.Join(versionDir, filepath.FromSlash(m)))
	}

	for _, want := range append(slices.Clone(tfms), fallbackFrameworks...) {
		if files, ok := byFramework[want]; ok {
			slices.Sort(files)
			return files, nil
		}
	}
	slices.Sort(frameworks)
	files := byFramework[frameworks[len(frameworks)-1]]
	slices.Sort(files)
	return files, nil
}
