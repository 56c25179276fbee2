// Package mvstore implements a persistent, embeddable, multi-version
// key-value storage engine: chunk-based append storage, copy-on-write
// B-tree pages, and an MVCC commit/serialize/persist pipeline modeled on
// a chunked log-structured store design.
package mvstore

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/halvorsen/mvstore/internal/logger"
	"github.com/halvorsen/mvstore/internal/metrics"
)

// storeState is the lifecycle state machine (§4.1 "States: OPEN → STOPPING
// → CLOSING → CLOSED (no reverse transitions)").
type storeState int32

const (
	stateOpen storeState = iota
	stateStopping
	stateClosing
	stateClosed
)

const defaultRetentionTimeMs = 45 * 1000

// Config is the configuration set accepted by Open (§4.1, §6 "Configuration
// surface"). Zero values are replaced by the documented defaults.
type Config struct {
	FileName string
	FileStore FileStore // injected backend; mutually exclusive with FileName

	ReadOnly     bool
	RecoveryMode bool

	CacheSizeMB      int // default 16
	CacheConcurrency int // default 16

	PageSplitSize int // default 16384 file-backed, 48 in-memory
	KeysPerPage   int // default 48

	AutoCommitBufferSizeKB int
	AutoCommitDelayMs      int // default 1000, 0 disables
	AutoCompactFillRate    int // default 90

	Compress Compress

	RetentionTimeMs int64 // default 45000

	// NoReuseSpace disables reuse of a freed block below the high-water
	// mark; every allocation instead appends past the end of file, so an
	// external reader (online backup) never sees bytes below its
	// last-read offset change out from under it (§9 "reuseSpace=false
	// disables in-place overwrites to support online backup"). The zero
	// value reuses space, matching spec.md's default.
	NoReuseSpace bool

	BackgroundExceptionHandler func(error)

	Logger *logger.Logger
}

func (c *Config) setDefaults() {
	if c.CacheSizeMB == 0 {
		c.CacheSizeMB = 16
	}
	if c.CacheConcurrency == 0 {
		c.CacheConcurrency = 16
	}
	if c.PageSplitSize == 0 {
		if c.FileName == "" && c.FileStore == nil {
			c.PageSplitSize = 48
		} else {
			c.PageSplitSize = 16384
		}
	}
	if c.KeysPerPage == 0 {
		c.KeysPerPage = 48
	}
	if c.AutoCommitDelayMs == 0 {
		c.AutoCommitDelayMs = 1000
	}
	if c.AutoCompactFillRate == 0 {
		c.AutoCompactFillRate = 90
	}
	if c.RetentionTimeMs == 0 {
		c.RetentionTimeMs = defaultRetentionTimeMs
	}
}

// Store is the open handle to a single mvstore file (or in-memory image).
// It is the Go analogue of the reference design's central store object: it
// owns the file, the chunk registry, the free-space map, both caches, the
// layout/meta maps, and the commit pipeline's three fair locks.
type Store struct {
	instanceID string
	cfg        Config
	log        *logger.Logger
	metrics    *metrics.Metrics
	codec      Codec

	file     FileStore
	fileOwned bool

	state atomic.Int32

	// commit pipeline locks (§4.2, §5 "Locks")
	storeLock        sync.Mutex
	serializationLock sync.Mutex
	saveChunkLock     sync.Mutex

	bufPool *writeBufferPool

	createdAtMs int64
	header      storeHeader

	chunks          map[uint32]*chunk
	lastChunkID     uint32
	lastChunk       *chunk
	deadChunks      []uint32
	retentionTimeMs int64

	freeSpace *freeSpaceMap

	occMu        sync.Mutex
	removedPages removedPageQueue

	pageCache *pageCache
	tocCache  *tocCache

	versions *versionManager

	layout     *layoutMap
	layoutTree KeyValueMap
	meta       *metaMap
	metaTree   KeyValueMap

	metaChanged bool

	maps   map[uint32]Map
	mapsMu sync.RWMutex

	currentStoreVersion int64 // -1 when not mid-commit

	lastCommitTimeMs int64
	unsavedMemory    int64
	saveNeeded       bool

	readCount  atomic.Int64
	writeCount int64
	prevReadCount, prevWriteCount int64

	bgStop chan struct{}
	bgDone chan struct{}

	panicked atomic.Value // *panicError

	pageLoader PageLoader

	assumedCleanAtOpen bool
	lastChunkIDAtOpen  uint32

	newTree func(mapID uint32, createVersion uint64, pageSize int, root PagePos, totalCount int64, loadCommitted func(PagePos) (Page, error), onRemove func(PagePos)) KeyValueMap
}

// Open opens (or creates) a store per the given Config (§4.1). newTree
// constructs the concrete page-layer tree (ordinarily page.NewTree) used
// for the store's own layout and meta maps, as well as for every
// user-created map returned by OpenMap; mvstore never imports pkg/page
// itself to avoid the import cycle that would create (pkg/page depends on
// mvstore, not the other way around).
func Open(cfg Config, pageLoader PageLoader, newTree func(mapID uint32, createVersion uint64, pageSize int, root PagePos, totalCount int64, loadCommitted func(PagePos) (Page, error), onRemove func(PagePos)) KeyValueMap) (*Store, error) {
	cfg.setDefaults()

	var file FileStore
	owned := false
	switch {
	case cfg.FileStore != nil:
		file = cfg.FileStore
	case cfg.FileName != "":
		f, err := OpenFile(cfg.FileName, cfg.ReadOnly)
		if err != nil {
			return nil, err
		}
		file = f
		owned = true
	default:
		file = newMemFileStore()
		owned = true
	}

	log := cfg.Logger
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	instanceID := uuid.NewString()
	storeLog := log.StoreLogger(instanceID)

	s := &Store{
		instanceID:      instanceID,
		cfg:             cfg,
		log:             storeLog,
		metrics:         metrics.NewMetrics(),
		codec:           newCodec(cfg.Compress),
		file:            file,
		fileOwned:       owned,
		bufPool:         newWriteBufferPool(),
		chunks:          make(map[uint32]*chunk),
		retentionTimeMs: cfg.RetentionTimeMs,
		freeSpace:       newFreeSpaceMap(),
		pageCache:       newPageCache(cfg.CacheSizeMB<<20, cfg.CacheConcurrency),
		tocCache:        newTocCache(1 << 20),
		versions:        newVersionManager(0),
		maps:            make(map[uint32]Map),
		pageLoader:      pageLoader,
		newTree:         newTree,
	}
	s.currentStoreVersion = -1

	size, err := file.Size()
	if err != nil {
		return nil, err
	}

	if size == 0 {
		if err := s.initEmpty(); err != nil {
			return nil, err
		}
	} else {
		if err := s.recoverFromFile(); err != nil {
			return nil, err
		}
	}

	var layoutRoot PagePos
	if s.lastChunk != nil {
		layoutRoot = s.lastChunk.layoutRootPos
	}
	s.layoutTree = newTree(0, 0, s.cfg.PageSplitSize, layoutRoot, 0, s.readPage, s.onPageRemoved)
	s.layout = newLayoutMap(s.layoutTree)
	metaID, ok := s.layout.getMetaID()
	if !ok {
		metaID = 1
		s.layout.putMetaID(metaID)
	}
	metaRoot, _ := s.layout.getRoot(metaID)
	s.metaTree = newTree(metaID, 0, s.cfg.PageSplitSize, metaRoot, 0, s.readPage, s.onPageRemoved)
	s.meta = newMetaMap(s.metaTree)
	s.meta.bumpMapID(metaID)
	if v, ok := s.meta.getStoreVersion(); ok && v > s.versions.currentVersion() {
		s.versions = newVersionManager(0)
		s.versions.current.version = v
	}

	if size > 0 {
		s.loadAllChunks()
		s.scrubLayoutMap()
		s.scrubMetaMap()
	}

	s.log.LogRecovery(s.assumedCleanAtOpen, s.lastChunkIDAtOpen, s.versions.currentVersion())

	if !cfg.ReadOnly && cfg.AutoCommitDelayMs > 0 {
		s.startBackgroundWriter()
	}

	return s, nil
}

func (s *Store) initEmpty() error {
	now := nowMs()
	s.createdAtMs = now
	s.header = storeHeader{
		H:          headerMagic,
		BlockSize:  BlockSize,
		Format:     Format,
		FormatRead: Format,
		Created:    uint64(now),
	}
	if err := writeStoreHeader(s.file, s.header); err != nil {
		return err
	}
	s.freeSpace.markUsed(0, 2)
	s.assumedCleanAtOpen = true
	return nil
}

func nowMs() int64 { return time.Now().UnixMilli() }

// allocateBlocks reserves count blocks, honoring Config.NoReuseSpace by
// forcing every allocation past the current high-water mark instead of
// letting the free-space map reuse a hole below it.
func (s *Store) allocateBlocks(count, reservedLow, reservedHigh uint64) uint64 {
	if s.cfg.NoReuseSpace {
		reservedLow, reservedHigh = 0, s.freeSpace.getAfterLastBlock()
	}
	return s.freeSpace.allocate(count, reservedLow, reservedHigh)
}

func (s *Store) predictBlocks(count, reservedLow, reservedHigh uint64) uint64 {
	if s.cfg.NoReuseSpace {
		reservedLow, reservedHigh = 0, s.freeSpace.getAfterLastBlock()
	}
	return s.freeSpace.predictAllocation(count, reservedLow, reservedHigh)
}

func (s *Store) isClosed() bool { return storeState(s.state.Load()) == stateClosed }

func (s *Store) checkOpen() error {
	if p, ok := s.panicked.Load().(*panicError); ok && p != nil {
		return p
	}
	if s.isClosed() {
		return ErrClosed
	}
	return nil
}

// panicStore records err, attempts an immediate close, and marks the store
// unusable for every subsequent call (§4.1 "panic(error) ... once panicked
// the store only reports the panic error").
func (s *Store) panicStore(err error) {
	pe := &panicError{cause: err}
	s.panicked.Store(pe)
	s.log.LogPanic(err)
	s.closeImmediately()
}

func (s *Store) closeImmediately() {
	s.state.Store(int32(stateClosing))
	if s.bgStop != nil {
		close(s.bgStop)
		<-s.bgDone
		s.bgStop = nil
	}
	if s.fileOwned {
		s.file.Close()
	}
	s.state.Store(int32(stateClosed))
}

// Close performs an orderly shutdown (§4.1 "Close (normal)").
func (s *Store) Close() error {
	if s.isClosed() {
		return nil
	}
	s.state.Store(int32(stateStopping))
	if s.bgStop != nil {
		close(s.bgStop)
		<-s.bgDone
		s.bgStop = nil
	}
	s.state.Store(int32(stateClosing))

	s.mapsMu.Lock()
	for id, m := range s.maps {
		if m.TotalCount() == 0 {
			s.layout.removeRoot(id)
		}
	}
	s.mapsMu.Unlock()

	s.commit()

	if s.cfg.AutoCompactFillRate > 0 && !s.cfg.ReadOnly {
		s.compactFile(200 * time.Millisecond)
	}

	s.header.Clean = 1
	s.header.Version = s.versions.currentVersion()
	if s.lastChunk != nil {
		s.header.Chunk = uint64(s.lastChunk.id)
		s.header.Block = s.lastChunk.block
	}
	if !s.cfg.ReadOnly {
		writeStoreHeader(s.file, s.header)
		s.file.Sync()
	}

	s.pageCache = newPageCache(1, 1)
	s.tocCache = newTocCache(1)

	if s.fileOwned {
		s.file.Close()
	}
	s.state.Store(int32(stateClosed))
	return nil
}
