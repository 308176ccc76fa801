package db

const schema = `
CREATE EXTENSION IF NOT EXISTS pgcrypto;

CREATE TABLE IF NOT EXISTS users (
	id            uuid PRIMARY KEY DEFAULT gen_random_uuid(),
	email         text NOT NULL UNIQUE,
	display_name  text NOT NULL,
	password_hash text NOT NULL,
	created_at    timestamptz NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS chat_messages (
	id          bigserial PRIMARY KEY,
	sender_id   uuid NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	receiver_id uuid NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	body        text NOT NULL,
	is_read     boolean NOT NULL DEFAULT false,
	created_at  timestamptz NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_chat_messages_pair
	ON chat_messages (sender_id, receiver_id, id DESC);

CREATE INDEX IF NOT EXISTS idx_chat_messages_unread
	ON chat_messages (receiver_id, sender_id) WHERE NOT is_read;
`
