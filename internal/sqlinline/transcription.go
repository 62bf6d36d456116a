package sqlinline

const QCreateTranscriptionSchema = `--sql 70191d17-ccf8-4133-a2e6-f42fcbaa3a6f
create table if not exists transcription_provider (
    id bigserial primary key,
    name text not null unique
);
create table if not exists transcription_job_control (
    job_id text primary key,
    media_package_id text not null,
    track_id text not null,
    status text not null,
    track_duration_ms bigint not null default 0,
    date_created timestamptz not null,
    date_expected timestamptz,
    date_completed timestamptz,
    provider_id bigint not null references transcription_provider (id)
);
create index if not exists transcription_job_control_mp_idx on transcription_job_control (media_package_id);
create index if not exists transcription_job_control_status_idx on transcription_job_control (status);
create table if not exists transcription_secret (
    name text primary key,
    value text not null,
    properties jsonb not null default '{}'::jsonb,
    updated_at timestamptz not null default now()
);
`

const QInsertProvider = `--sql f8d7bccd-cbe5-4255-8f26-e2629bd66e31
insert into transcription_provider (name)
values ($1::text)
on conflict (name) do nothing
returning id, name;
`

const QSelectProviderByName = `--sql 9a681532-c747-4f86-94e7-d47f1cc52c99
select id, name
from transcription_provider
where name = $1::text;
`

const QInsertJobControl = `--sql 0957549e-2906-4891-b3a2-79f6df1a2b38
insert into transcription_job_control (
    job_id, media_package_id, track_id, status, track_duration_ms,
    date_created, date_expected, provider_id
)
values ($1::text, $2::text, $3::text, $4::text, $5::bigint, $6::timestamptz, $7::timestamptz, $8::bigint);
`

const QSelectJobControlByJob = `--sql 3b2f17cb-636b-477b-98eb-23aff5f93036
select j.job_id, j.media_package_id, j.track_id, j.status, j.track_duration_ms,
       j.date_created, j.date_expected, j.date_completed, j.provider_id, p.name
from transcription_job_control j
join transcription_provider p on p.id = j.provider_id
where j.job_id = $1::text;
`

const QSelectJobControlsByMediaPackage = `--sql 299af016-910b-4b55-8092-d59556c8dfbf
select j.job_id, j.media_package_id, j.track_id, j.status, j.track_duration_ms,
       j.date_created, j.date_expected, j.date_completed, j.provider_id, p.name
from transcription_job_control j
join transcription_provider p on p.id = j.provider_id
where j.media_package_id = $1::text
order by j.date_created;
`

const QSelectJobControlsByStatus = `--sql 434e49af-4ff0-450f-a928-2346128aeca6
select j.job_id, j.media_package_id, j.track_id, j.status, j.track_duration_ms,
       j.date_created, j.date_expected, j.date_completed, j.provider_id, p.name
from transcription_job_control j
join transcription_provider p on p.id = j.provider_id
where j.status = any($1::text[]);
`

// QUpdateJobControlStatus only matches rows whose current status is one of $4,
// so racing writers cannot move a job backwards. date_completed is written once.
const QUpdateJobControlStatus = `--sql 90edd9b1-607f-4334-888b-e9ac5aa0dbab
update transcription_job_control
set status = $2::text,
    date_completed = case
        when $2::text = 'TranscriptionComplete' and date_completed is null then $3::timestamptz
        else date_completed
    end
where job_id = $1::text
  and status = any($4::text[]);
`

const QSelectJobControlStatus = `--sql c64d46c0-bf65-4ea9-bc28-dc6f624d4747
select status
from transcription_job_control
where job_id = $1::text;
`

const QDeleteJobControl = `--sql c4babec3-fd24-4d5b-b2a3-dafbf437eec4
delete from transcription_job_control
where job_id = $1::text;
`
