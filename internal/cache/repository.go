package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/BILDUNGSLOGIN/lizenzmanager-ucs-sub000/internal/search"
	pkgerrors "github.com/BILDUNGSLOGIN/lizenzmanager-ucs-sub000/pkg/errors"
)

const deltaPrefix = "license-"

// Repository is the in-memory read model of one worker process. It is loaded
// from the shared cache file, kept current by applying per-license delta
// files, and patched synchronously for writes made by its own process.
type Repository struct {
	cacheFile   string
	deltaDir    string
	searchLimit int
	builder     *Builder

	mu          sync.RWMutex
	timestamp   time.Time
	licenses    map[string]*CachedLicense
	assignments map[string][]*CachedAssignment
	users       map[string]*CachedUser
	workgroups  map[string]*CachedGroup
	schools     map[string]*CachedSchool
	classes     []*CachedGroup
	metadata    map[string]*CachedMetaData
}

// RepositoryParams configure a Repository. Builder is only required in
// processes that mutate the directory; pure readers leave it nil.
type RepositoryParams struct {
	CacheFile   string
	DeltaDir    string
	SearchLimit int
	Builder     *Builder
}

// NewRepository builds an empty repository; call Update to load it.
func NewRepository(params RepositoryParams) (*Repository, error) {
	if params.CacheFile == "" {
		return nil, fmt.Errorf("cache file path required")
	}
	deltaDir := params.DeltaDir
	if deltaDir == "" {
		deltaDir = filepath.Dir(params.CacheFile)
	}
	repo := &Repository{
		cacheFile:   params.CacheFile,
		deltaDir:    deltaDir,
		searchLimit: params.SearchLimit,
		builder:     params.Builder,
	}
	repo.reset()
	return repo, nil
}

func (r *Repository) reset() {
	r.licenses = make(map[string]*CachedLicense)
	r.assignments = make(map[string][]*CachedAssignment)
	r.users = make(map[string]*CachedUser)
	r.workgroups = make(map[string]*CachedGroup)
	r.schools = make(map[string]*CachedSchool)
	r.classes = nil
	r.metadata = make(map[string]*CachedMetaData)
}

// Update reconciles the in-memory model with the files on disk. A cache file
// newer than the last applied timestamp triggers a full reload; afterwards
// every delta file younger than the timestamp is applied in place. The
// timestamp then advances to the newest modification time seen, so each file
// is applied at most once.
func (r *Repository) Update(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	newest := r.timestamp
	if info, err := os.Stat(r.cacheFile); err == nil {
		if info.ModTime().After(r.timestamp) {
			if err := r.loadSnapshotLocked(); err != nil {
				return err
			}
			newest = info.ModTime()
		}
	} else if !os.IsNotExist(err) {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "stat cache file")
	}

	files, err := os.ReadDir(r.deltaDir)
	if err != nil {
		if os.IsNotExist(err) {
			r.timestamp = newest
			return nil
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read delta directory")
	}
	for _, file := range files {
		name := file.Name()
		if file.IsDir() || !strings.HasPrefix(name, deltaPrefix) || !strings.HasSuffix(name, ".json") {
			continue
		}
		info, err := file.Info()
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "stat delta file")
		}
		if !info.ModTime().After(r.timestamp) {
			continue
		}
		delta, err := readDelta(filepath.Join(r.deltaDir, name))
		if err != nil {
			return err
		}
		r.applyDeltaLocked(delta)
		if info.ModTime().After(newest) {
			newest = info.ModTime()
		}
	}
	r.timestamp = newest
	return nil
}

func (r *Repository) loadSnapshotLocked() error {
	data, err := os.ReadFile(r.cacheFile)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read cache file")
	}
	var snapshot Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode cache file")
	}

	r.reset()
	for _, license := range snapshot.Licenses {
		r.licenses[license.EntryUUID] = license
	}
	for _, assignment := range snapshot.Assignments {
		r.assignments[assignment.LicenseUUID] = append(r.assignments[assignment.LicenseUUID], assignment)
	}
	for _, user := range snapshot.Users {
		r.users[user.EntryUUID] = user
	}
	for _, group := range snapshot.Workgroups {
		r.workgroups[group.EntryUUID] = group
	}
	for _, school := range snapshot.Schools {
		r.schools[school.EntryUUID] = school
	}
	r.classes = snapshot.Classes
	for _, record := range snapshot.Metadata {
		r.metadata[strings.ToLower(record.ProductID)] = record
	}
	return nil
}

func (r *Repository) applyDeltaLocked(delta *Delta) {
	if delta.License == nil {
		return
	}
	licenseUUID := delta.License.EntryUUID
	if delta.Deleted {
		delete(r.licenses, licenseUUID)
		delete(r.assignments, licenseUUID)
		return
	}
	r.licenses[licenseUUID] = delta.License
	r.assignments[licenseUUID] = delta.Assignments
}

// FilterLicenses evaluates the query against the in-memory model. Result
// sets above the configured cap are refused, not truncated.
func (r *Repository) FilterLicenses(query search.Query) ([]search.LicenseView, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var views []search.LicenseView
	for _, license := range r.licenses {
		view := r.viewLocked(license)
		if !query.Matches(view) {
			continue
		}
		views = append(views, view)
		if r.searchLimit > 0 && len(views) > r.searchLimit {
			return nil, pkgerrors.New(pkgerrors.CodeSearchLimit,
				fmt.Sprintf("search matched more than %d licenses", r.searchLimit)).
				WithDetails(map[string]any{"limit": r.searchLimit})
		}
	}
	return views, nil
}

// LicenseByCode returns the cached license with the code, matched
// case-insensitively.
func (r *Repository) LicenseByCode(code string) (*CachedLicense, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, license := range r.licenses {
		if strings.EqualFold(license.Code, code) {
			return license, true
		}
	}
	return nil, false
}

// LicenseCount reports the number of cached licenses.
func (r *Repository) LicenseCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.licenses)
}

func (r *Repository) viewLocked(license *CachedLicense) search.LicenseView {
	view := search.LicenseView{
		Code:              license.Code,
		ProductID:         license.ProductID,
		LicenseType:       license.LicenseType,
		School:            license.School,
		DeliveryDate:      license.DeliveryDate.TimePtr(),
		ValidityEnd:       license.ValidityEnd.TimePtr(),
		IgnoredForDisplay: license.IgnoredForDisplay,
		QuantityAvailable: license.QuantityAvailable,
		QuantityAssigned:  license.QuantityAssigned,
		IsExpired:         license.IsExpired,
		UserStrings:       license.UserStrings,
		Groups:            license.Groups,
	}
	if record, ok := r.metadata[strings.ToLower(license.ProductID)]; ok {
		view.Title = record.Title
		view.Publisher = record.Publisher
	}
	return view
}

// LicenseChanged rebuilds the license's delta from the directory, persists it
// for other worker processes and applies it in place.
func (r *Repository) LicenseChanged(ctx context.Context, licenseUUID string) error {
	if r.builder == nil {
		return pkgerrors.New(pkgerrors.CodeInternal, "repository has no directory access")
	}
	delta, err := r.builder.BuildDelta(ctx, licenseUUID)
	if err != nil {
		return err
	}
	return r.persistAndApply(delta)
}

// LicenseDeleted removes the license from the mirror and persists a deleted
// delta.
func (r *Repository) LicenseDeleted(_ context.Context, licenseUUID string) error {
	delta := &Delta{Deleted: true, License: &CachedLicense{EntryUUID: licenseUUID}}
	return r.persistAndApply(delta)
}

// AddAssignments refreshes the license after slots were handed out by the
// same process.
func (r *Repository) AddAssignments(ctx context.Context, licenseCode string, _ []string) error {
	return r.refreshByCode(ctx, licenseCode)
}

// RemoveAssignments refreshes the license after slots were reclaimed by the
// same process.
func (r *Repository) RemoveAssignments(ctx context.Context, licenseCode string, _ []string) error {
	return r.refreshByCode(ctx, licenseCode)
}

func (r *Repository) refreshByCode(ctx context.Context, licenseCode string) error {
	if r.builder == nil {
		return pkgerrors.New(pkgerrors.CodeInternal, "repository has no directory access")
	}
	delta, err := r.builder.BuildDeltaByCode(ctx, licenseCode)
	if err != nil {
		return err
	}
	return r.persistAndApply(delta)
}

func (r *Repository) persistAndApply(delta *Delta) error {
	mtime, err := writeDelta(r.deltaDir, delta)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.applyDeltaLocked(delta)
	// our own delta is already applied; never re-read it
	if mtime.After(r.timestamp) {
		r.timestamp = mtime
	}
	return nil
}

func readDelta(path string) (*Delta, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read delta file")
	}
	var delta Delta
	if err := json.Unmarshal(data, &delta); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode delta file")
	}
	return &delta, nil
}

// writeDelta atomically replaces the license's delta file.
func writeDelta(dir string, delta *Delta) (time.Time, error) {
	if delta.License == nil {
		return time.Time{}, pkgerrors.New(pkgerrors.CodeInternal, "delta without license")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return time.Time{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create delta directory")
	}
	data, err := json.Marshal(delta)
	if err != nil {
		return time.Time{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode delta")
	}
	target := filepath.Join(dir, fmt.Sprintf("%s%s.json", deltaPrefix, delta.License.EntryUUID))
	tmp, err := os.CreateTemp(dir, ".delta-*")
	if err != nil {
		return time.Time{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create delta file")
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return time.Time{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "write delta file")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return time.Time{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "close delta file")
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		os.Remove(tmp.Name())
		return time.Time{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "replace delta file")
	}
	info, err := os.Stat(target)
	if err != nil {
		return time.Time{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "stat delta file")
	}
	return info.ModTime(), nil
}

// WriteSnapshot atomically replaces the cache file with the snapshot. The
// rebuild job uses this so readers never observe a half-written document.
func WriteSnapshot(path string, snapshot *Snapshot) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create cache directory")
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode snapshot")
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".cache-*")
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create cache file")
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "write cache file")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "close cache file")
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "replace cache file")
	}
	return nil
}
