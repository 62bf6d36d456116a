package sqlinline

const QSelectSecret = `--sql 7934bcbd-b209-409a-9b87-75020246736a
select value
from transcription_secret
where name = $1::text;
`

const QUpsertSecret = `--sql 93bc72ba-f545-4864-8ed4-27762b17d7aa
insert into transcription_secret (name, value, properties, updated_at)
values ($1::text, $2::text, coalesce($3::jsonb, '{}'::jsonb), now())
on conflict (name) do update set
    value = excluded.value,
    properties = transcription_secret.properties || excluded.properties,
    updated_at = now();
`

const QDeleteSecret = `--sql afa3bd36-e443-4ad8-b7a0-5e11ab2e6209
delete from transcription_secret
where name = $1::text;
`
