package store

// Steady-state schema. Folder uniqueness across packages is deliberately
// not a database constraint: the filesystem is the source of truth and
// the lifecycle manager enforces it through conflict detection.
const schema = `
CREATE TABLE IF NOT EXISTS pkg (
	source        TEXT NOT NULL,
	id            TEXT NOT NULL,
	slug          TEXT NOT NULL DEFAULT '',
	name          TEXT NOT NULL,
	description   TEXT NOT NULL DEFAULT '',
	url           TEXT NOT NULL DEFAULT '',
	download_url  TEXT NOT NULL DEFAULT '',
	version       TEXT NOT NULL,
	date          TEXT NOT NULL,
	changelog_fmt TEXT NOT NULL DEFAULT 'raw',
	changelog     TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (source, id)
);

CREATE TABLE IF NOT EXISTS pkg_options (
	source           TEXT NOT NULL,
	id               TEXT NOT NULL,
	any_flavour      INTEGER NOT NULL DEFAULT 0,
	any_release_type INTEGER NOT NULL DEFAULT 0,
	version_eq       TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (source, id),
	FOREIGN KEY (source, id) REFERENCES pkg (source, id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS pkg_folder (
	source   TEXT NOT NULL,
	id       TEXT NOT NULL,
	position INTEGER NOT NULL,
	folder   TEXT NOT NULL,
	PRIMARY KEY (source, id, folder),
	FOREIGN KEY (source, id) REFERENCES pkg (source, id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS pkg_dep (
	source TEXT NOT NULL,
	id     TEXT NOT NULL,
	dep_id TEXT NOT NULL,
	PRIMARY KEY (source, id, dep_id),
	FOREIGN KEY (source, id) REFERENCES pkg (source, id) ON DELETE CASCADE
);

-- Independent of pkg on purpose: the history survives removal so a
-- reinstall can still be rolled back.
CREATE TABLE IF NOT EXISTS pkg_version_log (
	source       TEXT NOT NULL,
	id           TEXT NOT NULL,
	version      TEXT NOT NULL,
	install_time TEXT NOT NULL,
	PRIMARY KEY (source, id, version)
);
`
