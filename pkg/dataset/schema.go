package dataset

// schemaVersion is recorded in meta.json so readers can detect layout
// changes.
const schemaVersion = 1

const schemaSQL = `
CREATE TABLE IF NOT EXISTS episodes (
	episode_index INTEGER PRIMARY KEY,
	started_at    TEXT    NOT NULL,
	num_steps     INTEGER NOT NULL,
	task          TEXT    NOT NULL
);

CREATE TABLE IF NOT EXISTS steps (
	episode_index INTEGER NOT NULL,
	step_index    INTEGER NOT NULL,
	ts_ns         INTEGER NOT NULL,
	task          TEXT    NOT NULL,
	leader_0 REAL NOT NULL, leader_1 REAL NOT NULL, leader_2 REAL NOT NULL,
	leader_3 REAL NOT NULL, leader_4 REAL NOT NULL, leader_5 REAL NOT NULL,
	follower_0 REAL NOT NULL, follower_1 REAL NOT NULL, follower_2 REAL NOT NULL,
	follower_3 REAL NOT NULL, follower_4 REAL NOT NULL, follower_5 REAL NOT NULL,
	PRIMARY KEY (episode_index, step_index),
	FOREIGN KEY (episode_index) REFERENCES episodes(episode_index)
);
`
