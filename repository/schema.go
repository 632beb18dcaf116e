package repository

// CaseSchema creates the case, draft and quota tables
const CaseSchema = `
CREATE TABLE IF NOT EXISTS cases (
    id UUID PRIMARY KEY,
    owner_id UUID NOT NULL,
    organization_id UUID,
    entitlements JSONB NOT NULL DEFAULT '{}'::jsonb,
    title TEXT NOT NULL DEFAULT '',

    tier INTEGER NOT NULL DEFAULT 0,
    charged_tier INTEGER NOT NULL DEFAULT 0,
    quota_status VARCHAR(32) NOT NULL DEFAULT 'pending',

    state VARCHAR(32) NOT NULL,
    version BIGINT NOT NULL DEFAULT 1,

    case_details JSONB NOT NULL DEFAULT '{}'::jsonb,
    pending_inputs JSONB NOT NULL DEFAULT '[]'::jsonb,
    open_questions JSONB NOT NULL DEFAULT '[]'::jsonb,
    latest_plan JSONB,

    stall JSONB,
    replan_count INTEGER NOT NULL DEFAULT 0,
    auto_cycles INTEGER NOT NULL DEFAULT 0,
    unsynthesized BOOLEAN NOT NULL DEFAULT false,
    history JSONB NOT NULL DEFAULT '[]'::jsonb,

    reopened_from UUID REFERENCES cases(id),

    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    closed_at TIMESTAMPTZ
);

ALTER TABLE cases ADD COLUMN IF NOT EXISTS unsynthesized BOOLEAN NOT NULL DEFAULT false;

CREATE INDEX IF NOT EXISTS idx_cases_owner ON cases(owner_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_cases_state ON cases(state);

CREATE TABLE IF NOT EXISTS drafts (
    id UUID PRIMARY KEY,
    case_id UUID NOT NULL REFERENCES cases(id),
    plan_version INTEGER NOT NULL,
    title TEXT NOT NULL DEFAULT '',
    content TEXT NOT NULL,
    storage_path TEXT,
    status VARCHAR(32) NOT NULL CHECK (status IN ('generated', 'delivered', 'superseded')),
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    delivered_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_drafts_case ON drafts(case_id, created_at DESC);

CREATE TABLE IF NOT EXISTS quota_entries (
    account TEXT NOT NULL,
    tier INTEGER NOT NULL,
    allotted INTEGER NOT NULL DEFAULT 0,
    consumed INTEGER NOT NULL DEFAULT 0,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (account, tier)
);

CREATE TABLE IF NOT EXISTS quota_reservations (
    reservation_id TEXT PRIMARY KEY,
    account TEXT NOT NULL,
    tier INTEGER NOT NULL,
    cost INTEGER NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS quota_payments (
    payment_ref TEXT PRIMARY KEY,
    account TEXT NOT NULL,
    tier INTEGER NOT NULL,
    credits INTEGER NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

// LegalChunkSchema creates the knowledge base table used by lookups.
// It needs the pgvector extension.
const LegalChunkSchema = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS legal_chunks (
    id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    source_type VARCHAR(50) NOT NULL CHECK (source_type IN ('regulation', 'case_law', 'doctrine')),
    source_document VARCHAR(255) NOT NULL,
    chunk_index INTEGER NOT NULL,
    chunk_text TEXT NOT NULL,
    citation TEXT,
    jurisdiction VARCHAR(16) NOT NULL DEFAULT 'RO',
    metadata JSONB DEFAULT '{}'::jsonb,
    embedding vector(768),
    created_at TIMESTAMPTZ DEFAULT NOW(),
    CONSTRAINT chunk_order_unique UNIQUE (source_document, chunk_index)
);

CREATE INDEX IF NOT EXISTS idx_embedding_hnsw ON legal_chunks
USING hnsw (embedding vector_cosine_ops)
WITH (m = 16, ef_construction = 64);

CREATE INDEX IF NOT EXISTS idx_source_type ON legal_chunks(source_type);
`
