package refstore

// schema creates the metadata tables backing Store. It is backend-agnostic:
// both the sqlite and bleve FTS engines sit on top of the same mirror,
// document, chunk, and tag tables; only full-text indexing differs.
const schema = `
CREATE TABLE IF NOT EXISTS mirrors (
	mirror_hash TEXT PRIMARY KEY,
	content     TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS documents (
	docid             TEXT PRIMARY KEY,
	collection        TEXT NOT NULL,
	rel_path          TEXT NOT NULL,
	uri               TEXT NOT NULL,
	title             TEXT NOT NULL DEFAULT '',
	mirror_hash       TEXT NOT NULL DEFAULT '',
	active            INTEGER NOT NULL DEFAULT 1,
	mime              TEXT NOT NULL DEFAULT '',
	ext               TEXT NOT NULL DEFAULT '',
	size              INTEGER NOT NULL DEFAULT 0,
	mtime             INTEGER NOT NULL DEFAULT 0,
	src_hash          TEXT NOT NULL DEFAULT '',
	converter_id      TEXT NOT NULL DEFAULT '',
	converter_version TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_documents_collection ON documents(collection);
CREATE INDEX IF NOT EXISTS idx_documents_mirror_hash ON documents(mirror_hash);
CREATE UNIQUE INDEX IF NOT EXISTS idx_documents_uri ON documents(uri);
CREATE UNIQUE INDEX IF NOT EXISTS idx_documents_collection_relpath ON documents(collection, rel_path);

CREATE TABLE IF NOT EXISTS tags (
	docid  TEXT NOT NULL,
	value  TEXT NOT NULL,
	source TEXT NOT NULL,
	PRIMARY KEY (docid, value)
);

CREATE TABLE IF NOT EXISTS chunks (
	mirror_hash TEXT NOT NULL,
	seq         INTEGER NOT NULL,
	text        TEXT NOT NULL,
	start_line  INTEGER NOT NULL DEFAULT 0,
	end_line    INTEGER NOT NULL DEFAULT 0,
	language    TEXT NOT NULL DEFAULT '',
	token_count INTEGER NOT NULL DEFAULT 0,
	created_at  INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (mirror_hash, seq)
);

-- vectors tracks, per (mirror_hash, seq, model_uri), when a chunk was last
-- embedded (§3: "a chunk is current for a given model when a vector exists
-- with embedded_at >= chunk.created_at"). The vector itself lives in the
-- VectorIndexPort; this row only tracks currency for backlog accounting.
CREATE TABLE IF NOT EXISTS vectors (
	mirror_hash TEXT NOT NULL,
	seq         INTEGER NOT NULL,
	model_uri   TEXT NOT NULL,
	embedded_at INTEGER NOT NULL,
	PRIMARY KEY (mirror_hash, seq, model_uri)
);

CREATE INDEX IF NOT EXISTS idx_vectors_model ON vectors(model_uri);
`
